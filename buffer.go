package shadertest

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// uniformAlign rounds uniform buffer allocations up so the binding covers
// the shader-side struct size, which uniform layout rounds to 16 bytes.
const uniformAlign = 16

// DeviceBuffer is one GPU buffer owned by a harness. Host access goes
// through views: AcquireWriteView to fill inputs, AcquireReadView to inspect
// results. At most one view is open per buffer at a time, and Run does not
// execute while any view is held.
type DeviceBuffer struct {
	h       *Harness
	spec    BufferSpec
	binding uint32
	size    uint64
	raw     *wgpu.Buffer

	// gate is a one-slot semaphore shared between views and Run. Holding
	// the slot means exclusive access to the buffer contents.
	gate chan struct{}
}

// allocateBuffers creates the device buffers for the resolved spec list.
// On failure every buffer created so far is destroyed.
func allocateBuffers(h *Harness, resolved []resolvedBuffer) ([]*DeviceBuffer, error) {
	bufs := make([]*DeviceBuffer, 0, len(resolved))
	for _, rb := range resolved {
		size := rb.byteSize
		var usage wgpu.BufferUsage
		switch rb.spec.Kind {
		case BindingUniform:
			size = (size + uniformAlign - 1) / uniformAlign * uniformAlign
			usage = wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
		default:
			usage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
		}

		raw, err := h.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: h.label + "/" + rb.spec.Name,
			Size:  size,
			Usage: usage,
		})
		if err != nil {
			for _, b := range bufs {
				b.destroy()
			}
			return nil, fmt.Errorf("shadertest: allocate buffer %q (%d bytes): %w",
				rb.spec.Name, size, err)
		}

		Logger().Debug("buffer allocated",
			slog.String("name", rb.spec.Name),
			slog.Uint64("bytes", size),
			slog.String("kind", rb.spec.Kind.String()))

		bufs = append(bufs, &DeviceBuffer{
			h:       h,
			spec:    rb.spec,
			binding: rb.binding,
			size:    size,
			raw:     raw,
			gate:    make(chan struct{}, 1),
		})
	}
	return bufs, nil
}

// Name returns the buffer's declared name.
func (b *DeviceBuffer) Name() string { return b.spec.Name }

// Size returns the buffer's allocated size in bytes.
func (b *DeviceBuffer) Size() uint64 { return b.size }

// Binding returns the buffer's binding index in group 0.
func (b *DeviceBuffer) Binding() uint32 { return b.binding }

// acquire takes the buffer's access slot, waiting up to timeout.
func (b *DeviceBuffer) acquire(timeout time.Duration) error {
	select {
	case b.gate <- struct{}{}:
		return nil
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b.gate <- struct{}{}:
		return nil
	case <-t.C:
		return fmt.Errorf("shadertest: buffer %q: %w", b.spec.Name, ErrViewAcquisitionTimeout)
	}
}

// releaseGate returns the buffer's access slot.
func (b *DeviceBuffer) releaseGate() { <-b.gate }

func (b *DeviceBuffer) destroy() {
	if b.raw != nil {
		b.raw.Destroy()
		b.raw = nil
	}
}

// AcquireReadView blocks until the buffer is free of other views and not
// mid-dispatch, then reads the device contents back to the host. The caller
// must Release the view; until then Run and other acquisitions on this
// buffer block.
//
// Waiting longer than timeout returns ErrViewAcquisitionTimeout; a
// non-positive timeout uses the harness Config.ViewTimeout. The harness
// stays usable after an acquisition timeout; nothing was submitted to the
// device.
func (b *DeviceBuffer) AcquireReadView(timeout time.Duration) (*ReadView, error) {
	if err := b.h.usable(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = b.h.viewTimeout
	}
	if err := b.acquire(timeout); err != nil {
		return nil, err
	}
	data, err := b.h.dev.readBuffer(b.raw, b.size, b.h.dispatchTimeout)
	if err != nil {
		b.releaseGate()
		return nil, fmt.Errorf("shadertest: read back buffer %q: %w", b.spec.Name, err)
	}
	return &ReadView{view{buf: b, data: data}}, nil
}

// AcquireWriteView blocks like AcquireReadView and additionally flushes the
// view's contents back to the device when it is released. The view starts
// with the buffer's current device contents, so partial updates are
// read-modify-write.
func (b *DeviceBuffer) AcquireWriteView(timeout time.Duration) (*WriteView, error) {
	if err := b.h.usable(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = b.h.viewTimeout
	}
	if err := b.acquire(timeout); err != nil {
		return nil, err
	}
	data, err := b.h.dev.readBuffer(b.raw, b.size, b.h.dispatchTimeout)
	if err != nil {
		b.releaseGate()
		return nil, fmt.Errorf("shadertest: read back buffer %q: %w", b.spec.Name, err)
	}
	return &WriteView{view{buf: b, data: data}}, nil
}

// view is the shared host-side shadow of a buffer's contents. Scalar
// accessors index in 4-byte slots from the start of the buffer, independent
// of the buffer's element type; slot 1 of a struct buffer is its second
// 32-bit field.
type view struct {
	buf      *DeviceBuffer
	data     []byte
	released bool
}

func (v *view) check() {
	if v.released {
		panic("shadertest: use of released buffer view")
	}
}

// Len returns the view's length in bytes.
func (v *view) Len() int { v.check(); return len(v.data) }

// Bytes returns the view's backing bytes. The slice is only valid until
// Release.
func (v *view) Bytes() []byte { v.check(); return v.data }

// Uint32 returns the 32-bit word at slot i.
func (v *view) Uint32(i int) uint32 {
	v.check()
	return binary.LittleEndian.Uint32(v.data[i*4:])
}

// Int32 returns the 32-bit word at slot i as a signed integer.
func (v *view) Int32(i int) int32 { return int32(v.Uint32(i)) }

// Float32 returns the 32-bit word at slot i as a float.
func (v *view) Float32(i int) float32 { return math.Float32frombits(v.Uint32(i)) }

// Uint32s returns a copy of the whole view as 32-bit words.
func (v *view) Uint32s() []uint32 {
	v.check()
	return wgpu.FromBytes[uint32](v.data)
}

// Float32s returns a copy of the whole view as floats.
func (v *view) Float32s() []float32 {
	v.check()
	return wgpu.FromBytes[float32](v.data)
}

// ReadView is host read access to a buffer's contents at acquisition time.
type ReadView struct {
	view
}

// Release ends the view and unblocks Run and other acquisitions.
// Release is idempotent.
func (v *ReadView) Release() {
	if v.released {
		return
	}
	v.released = true
	v.buf.releaseGate()
}

// WriteView is host read-write access to a buffer's contents. Mutations are
// local to the view until Release flushes them to the device.
type WriteView struct {
	view
}

// PutUint32 stores a 32-bit word at slot i.
func (v *WriteView) PutUint32(i int, x uint32) {
	v.check()
	binary.LittleEndian.PutUint32(v.data[i*4:], x)
}

// PutInt32 stores a signed 32-bit word at slot i.
func (v *WriteView) PutInt32(i int, x int32) { v.PutUint32(i, uint32(x)) }

// PutFloat32 stores a float at slot i.
func (v *WriteView) PutFloat32(i int, x float32) { v.PutUint32(i, math.Float32bits(x)) }

// SetUint32s overwrites the view from the start with the given words.
func (v *WriteView) SetUint32s(xs []uint32) {
	v.check()
	copy(v.data, wgpu.ToBytes(xs))
}

// SetFloat32s overwrites the view from the start with the given floats.
func (v *WriteView) SetFloat32s(xs []float32) {
	v.check()
	copy(v.data, wgpu.ToBytes(xs))
}

// Fill sets every 32-bit slot of the view to the given word.
func (v *WriteView) Fill(x uint32) {
	v.check()
	for i := 0; i < len(v.data)/4; i++ {
		binary.LittleEndian.PutUint32(v.data[i*4:], x)
	}
}

// Release flushes the view's contents to the device buffer and unblocks Run
// and other acquisitions. The flush is ordered before any later dispatch on
// the same queue. Release is idempotent.
func (v *WriteView) Release() {
	if v.released {
		return
	}
	v.released = true
	v.buf.h.dev.queue.WriteBuffer(v.buf.raw, 0, v.data)
	v.buf.releaseGate()
}

// readBuffer copies size bytes of src into a transient staging buffer, maps
// it for host reading, and returns a copy of the contents. The wait for the
// map callback is bounded by timeout.
func (d *Device) readBuffer(src *wgpu.Buffer, size uint64, timeout time.Duration) ([]byte, error) {
	staging, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "readback staging",
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer staging.Destroy()

	enc, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	enc.CopyBufferToBuffer(src, 0, staging, 0, size)
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return nil, fmt.Errorf("encode copy: %w", err)
	}
	d.queue.Submit(cmd)

	done := make(chan wgpu.BufferMapAsyncStatus, 1)
	if err := staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		done <- status
	}); err != nil {
		return nil, fmt.Errorf("map staging buffer: %w", err)
	}

	status, ok := awaitSignal(d.poll, done, timeout)
	if !ok {
		return nil, fmt.Errorf("buffer map: %w", ErrViewAcquisitionTimeout)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("map staging buffer: status %v", status)
	}

	mapped := staging.GetMappedRange(0, uint(size))
	if mapped == nil {
		return nil, fmt.Errorf("get mapped range failed")
	}
	out := make([]byte, size)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

package shadertest

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// Default bounds for GPU waits and view acquisition.
const (
	DefaultDispatchTimeout = time.Second
	DefaultViewTimeout     = time.Second
)

// Config describes the harness to build: one kernel, one workgroup count,
// and the kernel's buffers in binding order.
type Config struct {
	// KernelPath is a path to a WGSL file. Ignored when KernelSource is set.
	KernelPath string

	// KernelSource is inline WGSL. Takes precedence over KernelPath.
	KernelSource string

	// Segments composes the kernel from source pieces, in order. Takes
	// precedence over KernelSource and KernelPath. See ComposeKernel.
	Segments []Segment

	// Label names the harness in errors, logs and GPU object labels.
	// Defaults to the kernel file name, or "inline".
	Label string

	// EntryPoint selects the compute entry point. Defaults to "main".
	EntryPoint string

	// Workgroups is the dispatch size in workgroups per dimension.
	// All three dimensions must be non-zero.
	Workgroups WorkgroupCount

	// Buffers declares the kernel's buffers. Order matters: the i-th spec
	// is bound at @binding(i) of @group(0).
	Buffers []BufferSpec

	// DispatchTimeout bounds the wait for GPU completion in Run.
	// Defaults to DefaultDispatchTimeout.
	DispatchTimeout time.Duration

	// ViewTimeout is the default view acquisition timeout, used when a
	// non-positive timeout is passed to AcquireReadView/AcquireWriteView
	// and when Run waits for buffers to be view-free.
	// Defaults to DefaultViewTimeout.
	ViewTimeout time.Duration

	// Device overrides the shared process-wide device.
	Device *Device
}

// Harness state. Transitions are one-way: an invalidated or closed harness
// never becomes usable again.
const (
	stateUsable int32 = iota
	stateInvalid
	stateClosed
)

// Harness owns a compute pipeline for one kernel and the device buffers it
// binds. Create it with New, drive it with Run and the buffer views, and
// release it with Close.
type Harness struct {
	label string
	dev   *Device

	kern       *kernel
	layout     *BindingLayout
	pipe       *pipeline
	bindGroup  *wgpu.BindGroup
	workgroups WorkgroupCount

	buffers []*DeviceBuffer
	byName  map[string]*DeviceBuffer

	// marker and markerStaging implement the bounded dispatch wait: the
	// marker is copied to the mappable staging buffer after the compute
	// pass in the same command buffer.
	marker        *wgpu.Buffer
	markerStaging *wgpu.Buffer

	dispatchTimeout time.Duration
	viewTimeout     time.Duration

	state atomic.Int32
}

// New builds a harness for the configured kernel. Construction is ordered
// so that cheap host-side checks run before any device resource exists:
//
//  1. resolve and validate the buffer specs,
//  2. compile the kernel host-side and check its binding interface against
//     the declared buffers,
//  3. validate the workgroup count against the kernel's local size,
//  4. acquire the device, allocate buffers, build the pipeline and bind
//     group.
//
// A failure at any stage releases everything created so far and returns the
// error; New never returns a partially constructed harness.
func New(cfg Config) (*Harness, error) {
	resolved, err := resolveSpecs(cfg.Buffers)
	if err != nil {
		return nil, err
	}

	source, label, srcMap, err := loadKernelSource(&cfg)
	if err != nil {
		return nil, err
	}
	entry := cfg.EntryPoint
	if entry == "" {
		entry = "main"
	}
	kern, err := compileKernel(source, label, entry, srcMap)
	if err != nil {
		return nil, err
	}

	layout, err := buildLayout(label, kern, resolved)
	if err != nil {
		return nil, err
	}

	if err := validateWorkgroups(cfg.Workgroups, kern.LocalSize()); err != nil {
		return nil, err
	}

	dev := cfg.Device
	if dev == nil {
		dev, err = DefaultDevice()
		if err != nil {
			return nil, err
		}
	}

	h := &Harness{
		label:           label,
		dev:             dev,
		kern:            kern,
		layout:          layout,
		workgroups:      cfg.Workgroups,
		byName:          make(map[string]*DeviceBuffer, len(resolved)),
		dispatchTimeout: cfg.DispatchTimeout,
		viewTimeout:     cfg.ViewTimeout,
	}
	if h.dispatchTimeout <= 0 {
		h.dispatchTimeout = DefaultDispatchTimeout
	}
	if h.viewTimeout <= 0 {
		h.viewTimeout = DefaultViewTimeout
	}

	h.buffers, err = allocateBuffers(h, resolved)
	if err != nil {
		return nil, err
	}
	for _, b := range h.buffers {
		h.byName[b.spec.Name] = b
	}

	h.pipe, err = buildPipeline(dev, kern, layout)
	if err != nil {
		h.destroyResources()
		return nil, err
	}

	if err := h.createBindGroup(); err != nil {
		h.destroyResources()
		return nil, err
	}

	if err := h.createMarker(); err != nil {
		h.destroyResources()
		return nil, err
	}

	Logger().Info("harness ready",
		slog.String("kernel", label),
		slog.String("entry", entry),
		slog.Int("buffers", len(h.buffers)),
		slog.Any("workgroups", cfg.Workgroups))

	return h, nil
}

// createBindGroup binds every device buffer at its binding index in group 0.
func (h *Harness) createBindGroup() error {
	entries := make([]wgpu.BindGroupEntry, len(h.buffers))
	for i, b := range h.buffers {
		entries[i] = wgpu.BindGroupEntry{
			Binding: b.binding,
			Buffer:  b.raw,
			Size:    b.size,
		}
	}
	bg, err := h.dev.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   h.label + " group 0",
		Layout:  h.pipe.groupLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("shadertest: create bind group: %w", err)
	}
	h.bindGroup = bg
	return nil
}

// createMarker allocates the completion marker pair used by Run.
func (h *Harness) createMarker() error {
	marker, err := h.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: h.label + " marker",
		Size:  markerSize,
		Usage: wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("shadertest: create marker buffer: %w", err)
	}
	staging, err := h.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: h.label + " marker staging",
		Size:  markerSize,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		marker.Destroy()
		return fmt.Errorf("shadertest: create marker staging buffer: %w", err)
	}
	h.marker = marker
	h.markerStaging = staging
	return nil
}

// Buffer returns the named buffer, or nil when no buffer was declared under
// that name.
func (h *Harness) Buffer(name string) *DeviceBuffer { return h.byName[name] }

// Buffers returns the harness buffers in binding order.
func (h *Harness) Buffers() []*DeviceBuffer { return h.buffers }

// BindingLayout returns the resolved bind group 0 layout.
func (h *Harness) BindingLayout() *BindingLayout { return h.layout }

// LocalSize returns the kernel entry point's workgroup size.
func (h *Harness) LocalSize() [3]uint32 { return h.kern.LocalSize() }

// Workgroups returns the configured dispatch size.
func (h *Harness) Workgroups() WorkgroupCount { return h.workgroups }

// usable reports whether the harness accepts operations.
func (h *Harness) usable() error {
	switch h.state.Load() {
	case stateClosed:
		return ErrHarnessClosed
	case stateInvalid:
		return ErrSessionInvalid
	default:
		return nil
	}
}

// invalidate marks the harness unusable after a dispatch timeout. Closed
// wins over invalid so Close stays terminal.
func (h *Harness) invalidate() {
	h.state.CompareAndSwap(stateUsable, stateInvalid)
}

// Close releases the harness's device resources. Close is idempotent and
// safe on an invalidated harness; buffers a timed-out dispatch may still be
// writing are destroyed, which the device defers until the work drains.
func (h *Harness) Close() {
	if h.state.Swap(stateClosed) == stateClosed {
		return
	}
	h.destroyResources()
	Logger().Debug("harness closed", slog.String("kernel", h.label))
}

// destroyResources frees device objects in reverse creation order. Safe to
// call on a partially constructed harness.
func (h *Harness) destroyResources() {
	if h.markerStaging != nil {
		h.markerStaging.Destroy()
		h.markerStaging = nil
	}
	if h.marker != nil {
		h.marker.Destroy()
		h.marker = nil
	}
	if h.bindGroup != nil {
		h.bindGroup.Release()
		h.bindGroup = nil
	}
	if h.pipe != nil {
		h.pipe.release()
		h.pipe = nil
	}
	for _, b := range h.buffers {
		b.destroy()
	}
	h.buffers = nil
}

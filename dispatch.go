package shadertest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// markerSize is the size of the completion marker buffer. The marker is
// copied to a mappable staging buffer in the same command buffer as the
// compute pass; queue ordering means a successful map implies the dispatch
// finished.
const markerSize = 4

// Run executes one dispatch of the harness kernel with the configured
// workgroup count and waits for it to complete.
//
// Run excludes host views: it waits up to Config.ViewTimeout for every
// buffer to be view-free and holds them all for the duration of the
// dispatch. If a view is held too long Run fails with ErrDispatchTimeout
// without submitting anything; the harness stays usable.
//
// Once submitted, Run waits up to Config.DispatchTimeout for the GPU. If the
// kernel has not finished by then (a hang, an unbounded loop) Run returns
// ErrDispatchTimeout and the harness is invalidated: the dispatch may still
// be writing to its buffers, so every later operation fails with
// ErrSessionInvalid. Create a fresh harness to continue.
func (h *Harness) Run() error {
	if err := h.usable(); err != nil {
		return err
	}

	held, err := h.holdAllBuffers()
	if err != nil {
		// Nothing was submitted; the harness stays usable.
		return fmt.Errorf("%w: blocked by held view: %v", ErrDispatchTimeout, err)
	}
	defer held.release()

	start := time.Now()
	if err := h.submitDispatch(); err != nil {
		return err
	}
	if err := h.awaitDispatch(); err != nil {
		return err
	}

	Logger().Debug("dispatch complete",
		slog.String("kernel", h.label),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// heldBuffers tracks gates taken while a dispatch runs.
type heldBuffers struct {
	bufs []*DeviceBuffer
}

func (g *heldBuffers) release() {
	for _, b := range g.bufs {
		b.releaseGate()
	}
	g.bufs = nil
}

// holdAllBuffers takes every buffer gate in binding order, sharing one
// deadline across all of them. Taking them in a fixed order cannot deadlock
// against view acquisition, which takes a single gate at a time.
func (h *Harness) holdAllBuffers() (*heldBuffers, error) {
	deadline := time.Now().Add(h.viewTimeout)
	held := &heldBuffers{}
	for _, b := range h.buffers {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Nanosecond
		}
		if err := b.acquire(remaining); err != nil {
			held.release()
			return nil, err
		}
		held.bufs = append(held.bufs, b)
	}
	return held, nil
}

// submitDispatch encodes the compute pass plus the marker copy and submits
// them as one command buffer.
func (h *Harness) submitDispatch() error {
	enc, err := h.dev.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("shadertest: create command encoder: %w", err)
	}

	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(h.pipe.compute)
	pass.SetBindGroup(0, h.bindGroup, nil)
	pass.DispatchWorkgroups(h.workgroups.X, h.workgroups.Y, h.workgroups.Z)
	pass.End()

	enc.CopyBufferToBuffer(h.marker, 0, h.markerStaging, 0, markerSize)

	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return fmt.Errorf("shadertest: encode dispatch: %w", err)
	}
	h.dev.queue.Submit(cmd)
	return nil
}

// awaitDispatch maps the marker staging buffer and polls the device until
// the map callback fires, bounded by the dispatch timeout. A timeout here
// taints the harness: the submitted work may still be running.
func (h *Harness) awaitDispatch() error {
	done := make(chan wgpu.BufferMapAsyncStatus, 1)
	if err := h.markerStaging.MapAsync(wgpu.MapModeRead, 0, markerSize,
		func(status wgpu.BufferMapAsyncStatus) { done <- status }); err != nil {
		h.invalidate()
		return fmt.Errorf("shadertest: map completion marker: %w", err)
	}

	status, ok := awaitSignal(h.dev.poll, done, h.dispatchTimeout)
	if !ok {
		h.invalidate()
		Logger().Warn("dispatch timed out, harness invalidated",
			slog.String("kernel", h.label),
			slog.Duration("timeout", h.dispatchTimeout))
		return fmt.Errorf("shadertest: kernel %q did not complete within %v: %w",
			h.label, h.dispatchTimeout, ErrDispatchTimeout)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		h.invalidate()
		return fmt.Errorf("shadertest: completion marker map status %v", status)
	}
	h.markerStaging.Unmap()
	return nil
}

// awaitSignal polls for progress until done yields a value or the deadline
// passes. poll must be cheap and non-blocking; the loop backs off a
// millisecond per iteration to avoid spinning hot.
func awaitSignal[T any](poll func(), done <-chan T, timeout time.Duration) (T, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case v := <-done:
			return v, true
		case <-deadline.C:
			var zero T
			return zero, false
		default:
			poll()
			time.Sleep(time.Millisecond)
		}
	}
}

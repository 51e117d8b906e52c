// Package shadertest is a test harness for WGSL compute kernels.
//
// # Overview
//
// shadertest builds a single-dispatch compute pipeline around a kernel under
// test: it allocates the kernel's buffers, binds them in declaration order,
// runs one dispatch with a bounded wait, and gives the test host-side read
// and write views over the buffer contents. It is designed for table-driven
// Go tests that assert on what a kernel actually computed.
//
// # Quick Start
//
//	import "github.com/gogpu/shadertest"
//
//	h, err := shadertest.New(shadertest.Config{
//	    KernelPath: "testdata/linear.wgsl",
//	    Workgroups: shadertest.WorkgroupCount{X: 16, Y: 16, Z: 1},
//	    Buffers: []shadertest.BufferSpec{
//	        {Name: "params", Type: paramsType, Count: 1, Kind: shadertest.BindingUniform},
//	        {Name: "result", Type: shadertest.Float32, Count: 16384},
//	    },
//	})
//	if err != nil {
//	    t.Skipf("GPU not available: %v", err)
//	}
//	defer h.Close()
//
//	w, _ := h.Buffer("params").AcquireWriteView(time.Second)
//	w.PutFloat32(0, 2)
//	w.PutFloat32(1, 3)
//	w.Release()
//
//	if err := h.Run(); err != nil {
//	    t.Fatal(err)
//	}
//
//	r, _ := h.Buffer("result").AcquireReadView(time.Second)
//	defer r.Release()
//	got := r.Float32(42) // 2*42 + 3
//
// # Architecture
//
// The harness is organized into:
//   - Public API: Harness, Config, BufferSpec, DeviceBuffer, ReadView, WriteView
//   - Kernel handling: source composition, compilation, interface scanning
//   - Internal: wgslscan (binding interface extraction)
//
// Construction is ordered: buffer specs are resolved, the kernel is compiled
// and its interface checked against the declared buffers, and only then are
// device resources created. A failure at any stage returns an error and
// releases everything allocated so far; there is no partially usable harness.
//
// # Execution Model
//
// Each harness owns a pipeline for exactly one kernel and runs one dispatch
// per Run call. Run waits a bounded time for GPU completion (1s by default);
// on timeout the harness is invalidated and every subsequent operation fails
// with a timeout-tainted error. Buffer views exclude the dispatch: Run does
// not execute while a view is held, and views cannot be acquired mid-dispatch.
package shadertest

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"
)

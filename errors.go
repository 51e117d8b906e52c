package shadertest

import (
	"errors"
	"fmt"
)

// Construction errors.
var (
	// ErrInvalidBufferSpec is returned when a buffer declaration is malformed:
	// empty or duplicate name, non-positive element count, or an element type
	// with zero size.
	ErrInvalidBufferSpec = errors.New("shadertest: invalid buffer spec")

	// ErrNoKernelSource is returned when a Config provides no kernel:
	// no Segments, no KernelSource, no KernelPath.
	ErrNoKernelSource = errors.New("shadertest: no kernel source")

	// ErrWorkgroupCountZero is returned when any workgroup dimension is zero.
	ErrWorkgroupCountZero = errors.New("shadertest: workgroup count must be greater than zero")

	// ErrInvocationOverflow is returned when workgroup count times local
	// workgroup size exceeds the 32-bit invocation index space.
	ErrInvocationOverflow = errors.New("shadertest: total invocation count exceeds uint32 range")
)

// Execution errors.
var (
	// ErrDispatchTimeout is returned by Run when the GPU does not report
	// completion within the configured dispatch timeout. The session is
	// invalid afterwards and must be discarded.
	ErrDispatchTimeout = errors.New("shadertest: dispatch timed out")

	// ErrViewAcquisitionTimeout is returned when a buffer view cannot be
	// acquired within the configured view timeout, or when the readback
	// backing a view does not complete in time.
	ErrViewAcquisitionTimeout = errors.New("shadertest: view acquisition timed out")

	// ErrSessionInvalid is returned by Run and view acquisition after a
	// dispatch has timed out. No guarantee is made about buffer contents of
	// an invalid session; construct a new harness instead.
	ErrSessionInvalid = errors.New("shadertest: session is invalid after a timed-out dispatch")

	// ErrHarnessClosed is returned when operating on a closed harness.
	ErrHarnessClosed = errors.New("shadertest: harness has been closed")
)

// CompileError reports a kernel that failed host-side compilation.
// Diagnostics carries the compiler output verbatim.
type CompileError struct {
	// Label identifies the kernel source (the file path, or "inline").
	Label string

	// Diagnostics is the compiler error output.
	Diagnostics string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("shadertest: compile %s: %s", e.Label, e.Diagnostics)
}

// LayoutMismatchError reports a kernel whose declared binding interface does
// not structurally match the declared buffer list: wrong binding count, a
// gap or duplicate in binding indices, a resource kind disagreement, or a
// missing entry point.
type LayoutMismatchError struct {
	// Label identifies the kernel source.
	Label string

	// Detail describes the first disagreement found.
	Detail string
}

func (e *LayoutMismatchError) Error() string {
	return fmt.Sprintf("shadertest: layout mismatch in %s: %s", e.Label, e.Detail)
}

package shadertest

import (
	"fmt"
	"math"
	"math/bits"
)

// ElementType describes the size and alignment of one buffer element.
// Buffer allocation is parameterized over this descriptor rather than a
// language-level generic, so any fixed-size element layout can be declared.
type ElementType struct {
	// Name is the WGSL spelling of the type, used in diagnostics.
	Name string

	// Size is the element size in bytes.
	Size uint32

	// Align is the required element alignment in bytes.
	Align uint32
}

// Predefined element types matching the WGSL scalar and vector layouts.
var (
	Uint32  = ElementType{Name: "u32", Size: 4, Align: 4}
	Int32   = ElementType{Name: "i32", Size: 4, Align: 4}
	Float32 = ElementType{Name: "f32", Size: 4, Align: 4}
	Vec2f   = ElementType{Name: "vec2<f32>", Size: 8, Align: 8}
	Vec4f   = ElementType{Name: "vec4<f32>", Size: 16, Align: 16}
	Vec2u   = ElementType{Name: "vec2<u32>", Size: 8, Align: 8}
	Vec4u   = ElementType{Name: "vec4<u32>", Size: 16, Align: 16}
)

// StructType declares a custom fixed-size element type, typically matching a
// WGSL struct. Size must be a multiple of align per the WGSL layout rules;
// the resolver rejects specs that violate this.
func StructType(name string, size, align uint32) ElementType {
	return ElementType{Name: name, Size: size, Align: align}
}

// BindingKind is the resource kind a buffer is bound as.
type BindingKind int

const (
	// BindingStorage binds the buffer as a storage buffer. The kernel's
	// declared access mode (read or read_write) is taken from the kernel.
	BindingStorage BindingKind = iota

	// BindingUniform binds the buffer as a uniform buffer, for small
	// per-dispatch parameter blocks.
	BindingUniform
)

// String returns the WGSL address space name for the binding kind.
func (k BindingKind) String() string {
	switch k {
	case BindingStorage:
		return "storage"
	case BindingUniform:
		return "uniform"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// BufferSpec declares one buffer of the harness. The position of a spec in
// the declaration list determines its binding index: the i-th declared
// buffer is bound at @group(0) @binding(i).
type BufferSpec struct {
	// Name addresses the buffer handle on the constructed harness.
	Name string

	// Type is the element layout descriptor.
	Type ElementType

	// Count is the number of elements. Must be strictly positive.
	Count int

	// Kind selects storage (default) or uniform binding.
	Kind BindingKind
}

// WorkgroupCount is the number of workgroups dispatched in each dimension.
// Together with the kernel's compile-time local workgroup size it determines
// the total invocation count.
type WorkgroupCount struct {
	X, Y, Z uint32
}

// Invocations returns the total invocation count for this workgroup count
// and the given local workgroup size. Six 32-bit factors can exceed 64 bits,
// so counts that do not fit saturate at math.MaxUint64 instead of wrapping.
func (w WorkgroupCount) Invocations(local [3]uint32) uint64 {
	total := uint64(1)
	for _, f := range [...]uint64{
		uint64(w.X), uint64(w.Y), uint64(w.Z),
		uint64(local[0]), uint64(local[1]), uint64(local[2]),
	} {
		hi, lo := bits.Mul64(total, f)
		if hi != 0 {
			return math.MaxUint64
		}
		total = lo
	}
	return total
}

// resolvedBuffer is one validated buffer declaration with its computed
// allocation size and assigned binding index.
type resolvedBuffer struct {
	spec     BufferSpec
	binding  uint32
	byteSize uint64
}

// resolveSpecs validates the declared buffer list and assigns binding
// indices in declaration order. All failures wrap ErrInvalidBufferSpec.
func resolveSpecs(specs []BufferSpec) ([]resolvedBuffer, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no buffers declared", ErrInvalidBufferSpec)
	}

	seen := make(map[string]struct{}, len(specs))
	resolved := make([]resolvedBuffer, 0, len(specs))

	for i, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: buffer %d has no name", ErrInvalidBufferSpec, i)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate buffer name %q", ErrInvalidBufferSpec, s.Name)
		}
		seen[s.Name] = struct{}{}

		if s.Type.Size == 0 {
			return nil, fmt.Errorf("%w: buffer %q has a zero-size element type", ErrInvalidBufferSpec, s.Name)
		}
		if s.Type.Align == 0 || s.Type.Size%s.Type.Align != 0 {
			return nil, fmt.Errorf("%w: buffer %q element type %s has size %d not a multiple of alignment %d",
				ErrInvalidBufferSpec, s.Name, s.Type.Name, s.Type.Size, s.Type.Align)
		}
		if s.Count <= 0 {
			return nil, fmt.Errorf("%w: buffer %q has element count %d", ErrInvalidBufferSpec, s.Name, s.Count)
		}
		if uint64(s.Count) > math.MaxUint64/uint64(s.Type.Size) {
			return nil, fmt.Errorf("%w: buffer %q byte size overflows", ErrInvalidBufferSpec, s.Name)
		}

		resolved = append(resolved, resolvedBuffer{
			spec:     s,
			binding:  uint32(i),
			byteSize: uint64(s.Count) * uint64(s.Type.Size),
		})
	}

	return resolved, nil
}

// validateWorkgroups checks the dispatch geometry against the kernel's local
// workgroup size: every dimension must be positive and the total invocation
// count must be representable in the 32-bit index space kernels compute
// their invocation uid in.
func validateWorkgroups(wg WorkgroupCount, local [3]uint32) error {
	if wg.X == 0 || wg.Y == 0 || wg.Z == 0 {
		return fmt.Errorf("%w: got [%d, %d, %d]", ErrWorkgroupCountZero, wg.X, wg.Y, wg.Z)
	}
	if total := wg.Invocations(local); total > math.MaxUint32 {
		return fmt.Errorf("%w: %d invocations", ErrInvocationOverflow, total)
	}
	return nil
}

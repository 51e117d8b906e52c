package shadertest

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/gogpu/shadertest/internal/wgslscan"
)

// Binding describes one slot of the harness bind group as exposed to tests.
// All buffers live in bind group 0; the binding index is the buffer's
// position in the declared spec list.
type Binding struct {
	Index    uint32
	Name     string
	Kind     BindingKind
	ByteSize uint64

	// ReadOnly reports the shader-side access for storage bindings.
	ReadOnly bool
}

// BindingLayout is the resolved bind group 0 layout, one entry per declared
// buffer in declaration order.
type BindingLayout struct {
	Bindings []Binding
}

// buildLayout checks the declared buffer list against the kernel's scanned
// interface and produces the public layout. Binding i of group 0 must be the
// i-th declared buffer, and the binding kinds must agree; anything else is a
// LayoutMismatchError. The shader's access mode (read vs read_write) is
// carried into the layout because wgpu validates bind group layouts against
// the shader's own declarations.
func buildLayout(label string, k *kernel, resolved []resolvedBuffer) (*BindingLayout, error) {
	if maxGroup := k.iface.MaxGroup(); maxGroup > 0 {
		return nil, &LayoutMismatchError{
			Label:  label,
			Detail: fmt.Sprintf("kernel declares bind group %d; only group 0 is supported", maxGroup),
		}
	}

	shaderBindings := k.iface.GroupBindings(0)
	if len(shaderBindings) != len(resolved) {
		return nil, &LayoutMismatchError{
			Label: label,
			Detail: fmt.Sprintf("kernel declares %d bindings in group 0, harness declares %d buffers",
				len(shaderBindings), len(resolved)),
		}
	}

	layout := &BindingLayout{Bindings: make([]Binding, len(resolved))}
	for i, rb := range resolved {
		sb := shaderBindings[i]
		if sb.Index != rb.binding {
			return nil, &LayoutMismatchError{
				Label: label,
				Detail: fmt.Sprintf("binding indices are not contiguous: expected @binding(%d), kernel has @binding(%d) (%s)",
					rb.binding, sb.Index, sb.Name),
			}
		}
		if err := matchKinds(rb.spec, sb); err != nil {
			return nil, &LayoutMismatchError{Label: label, Detail: err.Error()}
		}
		layout.Bindings[i] = Binding{
			Index:    rb.binding,
			Name:     rb.spec.Name,
			Kind:     rb.spec.Kind,
			ByteSize: rb.byteSize,
			ReadOnly: sb.Kind == wgslscan.KindStorageRO,
		}
	}
	return layout, nil
}

// matchKinds checks a declared buffer kind against the shader declaration at
// the same binding index.
func matchKinds(spec BufferSpec, sb wgslscan.Binding) error {
	switch spec.Kind {
	case BindingStorage:
		if !sb.Kind.Storage() {
			return fmt.Errorf("buffer %q is declared storage but @binding(%d) %s is var<%s>",
				spec.Name, sb.Index, sb.Name, sb.Kind)
		}
	case BindingUniform:
		if sb.Kind != wgslscan.KindUniform {
			return fmt.Errorf("buffer %q is declared uniform but @binding(%d) %s is var<%s>",
				spec.Name, sb.Index, sb.Name, sb.Kind)
		}
	default:
		return fmt.Errorf("buffer %q has unknown binding kind %v", spec.Name, spec.Kind)
	}
	return nil
}

// layoutEntries builds the wgpu bind group layout entries for group 0.
func layoutEntries(layout *BindingLayout) []wgpu.BindGroupLayoutEntry {
	entries := make([]wgpu.BindGroupLayoutEntry, len(layout.Bindings))
	for i, b := range layout.Bindings {
		var bufType wgpu.BufferBindingType
		switch {
		case b.Kind == BindingUniform:
			bufType = wgpu.BufferBindingTypeUniform
		case b.ReadOnly:
			bufType = wgpu.BufferBindingTypeReadOnlyStorage
		default:
			bufType = wgpu.BufferBindingTypeStorage
		}
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    b.Index,
			Visibility: wgpu.ShaderStageCompute,
			Buffer: wgpu.BufferBindingLayout{
				Type: bufType,
			},
		}
	}
	return entries
}

package shadertest

import (
	"fmt"
	"log/slog"

	"github.com/openfluke/webgpu/wgpu"
)

// pipeline holds the device-side objects for one compute kernel.
type pipeline struct {
	module      *wgpu.ShaderModule
	groupLayout *wgpu.BindGroupLayout
	layout      *wgpu.PipelineLayout
	compute     *wgpu.ComputePipeline
}

// buildPipeline creates the shader module, the group-0 bind group layout,
// and the compute pipeline. On any failure everything created so far is
// released; the caller never sees a partial pipeline.
//
// The kernel was already compiled host-side, so a shader module failure here
// is a driver disagreement and is still surfaced as a CompileError with the
// driver's message.
func buildPipeline(dev *Device, k *kernel, layout *BindingLayout) (*pipeline, error) {
	p := &pipeline{}

	var err error
	p.module, err = dev.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: k.label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: k.source,
		},
	})
	if err != nil {
		return nil, &CompileError{Label: k.label, Diagnostics: err.Error()}
	}

	p.groupLayout, err = dev.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   k.label + " group 0",
		Entries: layoutEntries(layout),
	})
	if err != nil {
		p.release()
		return nil, fmt.Errorf("shadertest: create bind group layout: %w", err)
	}

	p.layout, err = dev.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            k.label + " layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.groupLayout},
	})
	if err != nil {
		p.release()
		return nil, fmt.Errorf("shadertest: create pipeline layout: %w", err)
	}

	p.compute, err = dev.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  k.label,
		Layout: p.layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     p.module,
			EntryPoint: k.entry.Name,
		},
	})
	if err != nil {
		p.release()
		return nil, fmt.Errorf("shadertest: create compute pipeline: %w", err)
	}

	Logger().Debug("compute pipeline created",
		slog.String("kernel", k.label),
		slog.String("entry", k.entry.Name),
		slog.Int("bindings", len(layout.Bindings)))

	return p, nil
}

// release frees the pipeline objects in reverse creation order. Safe to call
// on a partially built pipeline.
func (p *pipeline) release() {
	if p.compute != nil {
		p.compute.Release()
		p.compute = nil
	}
	if p.layout != nil {
		p.layout.Release()
		p.layout = nil
	}
	if p.groupLayout != nil {
		p.groupLayout.Release()
		p.groupLayout = nil
	}
	if p.module != nil {
		p.module.Release()
		p.module = nil
	}
}

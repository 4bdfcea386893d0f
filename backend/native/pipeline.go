//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/quant/backend"
)

// pipelines holds the compiled compute pipeline of every kernel.
type pipelines struct {
	device          hal.Device
	modules         [backend.KernelCount]hal.ShaderModule
	bgLayouts       [backend.KernelCount]hal.BindGroupLayout
	pipelineLayouts [backend.KernelCount]hal.PipelineLayout
	pipelines       [backend.KernelCount]hal.ComputePipeline
}

// bindGroupLayoutEntries maps a kernel layout to hal binding types.
func bindGroupLayoutEntries(k backend.Kernel) []gputypes.BindGroupLayoutEntry {
	layout := k.Layout()
	entries := make([]gputypes.BindGroupLayoutEntry, len(layout))
	for i, slot := range layout {
		typ := gputypes.BufferBindingTypeStorage
		switch slot.Access {
		case backend.AccessUniform:
			typ = gputypes.BufferBindingTypeUniform
		case backend.AccessRead:
			typ = gputypes.BufferBindingTypeReadOnlyStorage
		}
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    slot.Binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		}
	}
	return entries
}

// newPipelines compiles every kernel for device. On failure all partially
// created resources are destroyed.
func newPipelines(device hal.Device) (*pipelines, error) {
	p := &pipelines{device: device}
	for k := backend.Kernel(0); k < backend.KernelCount; k++ {
		if err := p.build(k); err != nil {
			p.destroy()
			return nil, err
		}
	}
	slogger().Info("native: kernels compiled", "kernels", int(backend.KernelCount))
	return p, nil
}

func (p *pipelines) build(k backend.Kernel) error {
	name := "quant_" + k.String()

	code, err := compileSPIRV(k)
	if err != nil {
		return err
	}

	module, err := p.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  name,
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return fmt.Errorf("%w: create shader module for %s: %w", backend.ErrShaderCompile, k, err)
	}
	p.modules[k] = module

	entries := bindGroupLayoutEntries(k)
	bgLayout, err := p.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   name + "_bgl",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("%w: create bind group layout for %s: %w", backend.ErrShaderCompile, k, err)
	}
	p.bgLayouts[k] = bgLayout

	pipelineLayout, err := p.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            name + "_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		return fmt.Errorf("%w: create pipeline layout for %s: %w", backend.ErrShaderCompile, k, err)
	}
	p.pipelineLayouts[k] = pipelineLayout

	pipeline, err := p.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  name,
		Layout: pipelineLayout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create compute pipeline for %s: %w", backend.ErrShaderCompile, k, err)
	}
	p.pipelines[k] = pipeline

	slogger().Debug("native: pipeline created",
		"kernel", k.String(),
		"bindings", len(entries),
		"spirv_words", len(code))
	return nil
}

// destroy releases every created resource. Safe on a partially built set.
func (p *pipelines) destroy() {
	for k := range p.pipelines {
		if p.pipelines[k] != nil {
			p.device.DestroyComputePipeline(p.pipelines[k])
			p.pipelines[k] = nil
		}
		if p.pipelineLayouts[k] != nil {
			p.device.DestroyPipelineLayout(p.pipelineLayouts[k])
			p.pipelineLayouts[k] = nil
		}
		if p.bgLayouts[k] != nil {
			p.device.DestroyBindGroupLayout(p.bgLayouts[k])
			p.bgLayouts[k] = nil
		}
		if p.modules[k] != nil {
			p.device.DestroyShaderModule(p.modules[k])
			p.modules[k] = nil
		}
	}
}

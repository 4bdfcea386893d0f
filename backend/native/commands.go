//go:build !nogpu

package native

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/quant/backend"
)

// commandList records dispatches. Encoding happens in SubmitAndWait so that a
// list holds no device resources until it is submitted.
type commandList struct {
	owner    *Backend
	label    string
	cmds     []dispatch
	released bool
}

type dispatch struct {
	kernel   backend.Kernel
	entries  []gputypes.BindGroupEntry
	grid     backend.Grid
	bindings int
}

// NewCommandList starts recording a new submission.
func (b *Backend) NewCommandList(label string) (backend.CommandList, error) {
	if _, _, _, err := b.state(); err != nil {
		return nil, err
	}
	return &commandList{owner: b, label: label}, nil
}

func (cl *commandList) Dispatch(k backend.Kernel, bindings *backend.Bindings, grid backend.Grid) error {
	if cl.released {
		return fmt.Errorf("native: %s: command list %q already released", k, cl.label)
	}
	if k >= backend.KernelCount {
		return fmt.Errorf("native: unknown kernel %s", k)
	}
	if err := backend.CheckBindings(k, bindings); err != nil {
		return err
	}

	layout := k.Layout()
	entries := make([]gputypes.BindGroupEntry, len(layout))
	for i, slot := range layout {
		nb, err := cl.owner.own(slot.Buffer(bindings))
		if err != nil {
			return fmt.Errorf("native: %s: %s: %w", k, slot.Name, err)
		}
		entries[i] = gputypes.BindGroupEntry{
			Binding: slot.Binding,
			Resource: gputypes.BufferBinding{
				Buffer: nb.raw.NativeHandle(),
				Offset: 0,
				Size:   0, // 0 = entire buffer
			},
		}
	}
	cl.cmds = append(cl.cmds, dispatch{kernel: k, entries: entries, grid: grid, bindings: len(layout)})
	return nil
}

func (cl *commandList) Release() {
	cl.released = true
	cl.cmds = nil
}

// submitResources tracks per-submission resources for cleanup.
type submitResources struct {
	device     hal.Device
	bindGroups []hal.BindGroup
	cmdBuf     hal.CommandBuffer
}

func (r *submitResources) cleanup() {
	if r.cmdBuf != nil {
		r.device.FreeCommandBuffer(r.cmdBuf)
	}
	for _, g := range r.bindGroups {
		r.device.DestroyBindGroup(g)
	}
}

// SubmitAndWait encodes every recorded dispatch as one compute pass in a
// single command buffer, submits it and waits for the device. Passes in one
// encoder observe the storage writes of earlier passes.
func (b *Backend) SubmitAndWait(ctx context.Context, list backend.CommandList) error {
	cl, ok := list.(*commandList)
	if !ok || cl.owner != b {
		return fmt.Errorf("native: command list belongs to a different backend")
	}
	if cl.released {
		return fmt.Errorf("native: command list %q already released", cl.label)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	device, queue, pipes, err := b.state()
	if err != nil {
		return err
	}

	res := &submitResources{device: device}
	defer res.cleanup()

	if err := encodeDispatches(res, pipes, cl); err != nil {
		return err
	}

	b.submitMu.Lock()
	defer b.submitMu.Unlock()

	if err := b.submit(ctx, device, queue, res.cmdBuf); err != nil {
		return err
	}

	slogger().Debug("native: submitted",
		"label", cl.label,
		"dispatches", len(cl.cmds))
	return nil
}

// encodeDispatches records all compute passes of cl into a command buffer.
func encodeDispatches(res *submitResources, pipes *pipelines, cl *commandList) error {
	encoder, err := res.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: cl.label,
	})
	if err != nil {
		return fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(cl.label); err != nil {
		return fmt.Errorf("native: begin encoding: %w", err)
	}

	for _, d := range cl.cmds {
		if d.grid.X == 0 || d.grid.Y == 0 || d.grid.Z == 0 {
			continue
		}

		bg, err := res.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   fmt.Sprintf("quant_%s_bg", d.kernel),
			Layout:  pipes.bgLayouts[d.kernel],
			Entries: d.entries,
		})
		if err != nil {
			encoder.DiscardEncoding()
			return fmt.Errorf("native: create bind group for %s: %w", d.kernel, err)
		}
		res.bindGroups = append(res.bindGroups, bg)

		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{
			Label: fmt.Sprintf("quant_%s", d.kernel),
		})
		pass.SetPipeline(pipes.pipelines[d.kernel])
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(d.grid.X, d.grid.Y, d.grid.Z)
		pass.End()

		slogger().Debug("native: dispatched kernel",
			"kernel", d.kernel.String(),
			"bindings", d.bindings,
			"workgroups", d.grid.X*d.grid.Y*d.grid.Z)
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: end encoding: %w", err)
	}
	res.cmdBuf = cmdBuf
	return nil
}

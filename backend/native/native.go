// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// Package native runs the clustering kernels on a GPU through gogpu/wgpu.
//
// Kernels are written in WGSL, compiled to SPIR-V with gogpu/naga and
// dispatched as compute passes on a hal device. By default the backend opens
// its own Vulkan device, preferring a discrete or integrated GPU. A device
// owned by a host application can be shared with WithDeviceProvider.
//
// The package registers the "native" backend when imported; importing
// github.com/gogpu/quant/gpu does that as well.
package native

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/quant/backend"
)

// DefaultFenceTimeout bounds a single device wait.
const DefaultFenceTimeout = 10 * time.Second

func init() {
	backend.Register(backend.NameNative, func() backend.Backend {
		return New()
	})
}

// Option configures a native Backend.
type Option func(*Backend)

// WithFenceTimeout sets how long SubmitAndWait and Readback wait for the
// device before failing with backend.ErrDeviceTimeout.
func WithFenceTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.fenceTimeout = d
		}
	}
}

// WithDeviceProvider makes Init use the device of a host application instead
// of opening one. The provider must also implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(b *Backend) {
		b.provider = p
	}
}

// Backend is the GPU implementation of backend.Backend.
type Backend struct {
	mu sync.Mutex

	// submitMu serializes queue submissions and readbacks.
	submitMu sync.Mutex

	provider     gpucontext.DeviceProvider
	fenceTimeout time.Duration

	instance       hal.Instance
	device         hal.Device
	queue          hal.Queue
	externalDevice bool
	adapterName    string
	pipes          *pipelines
}

var (
	_ backend.Backend      = (*Backend)(nil)
	_ backend.LoggerSetter = (*Backend)(nil)
)

// New creates an uninitialized native backend.
func New(opts ...Option) *Backend {
	b := &Backend{fenceTimeout: DefaultFenceTimeout}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns "native".
func (b *Backend) Name() string { return backend.NameNative }

// SetLogger sets the logger for device diagnostics. Nil disables logging.
func (b *Backend) SetLogger(l *slog.Logger) { setLogger(l) }

// AdapterName returns the name of the selected GPU, or "" for a shared device.
func (b *Backend) AdapterName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adapterName
}

// Features reports no optional capabilities. Timestamp queries are not
// exposed by the hal layer this backend is built on.
func (b *Backend) Features() backend.Features { return 0 }

// Init acquires a device and compiles the kernels.
// Calling Init on an initialized backend is a no-op.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pipes != nil {
		return nil
	}

	var err error
	if b.provider != nil {
		err = b.useProvider(b.provider)
	} else {
		err = b.openDevice()
	}
	if err != nil {
		b.releaseDevice()
		return err
	}

	pipes, err := newPipelines(b.device)
	if err != nil {
		b.releaseDevice()
		return err
	}
	b.pipes = pipes
	return nil
}

// useProvider adopts the hal device of a host application.
func (b *Backend) useProvider(provider gpucontext.DeviceProvider) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("%w: provider does not expose HAL types", backend.ErrDeviceInit)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("%w: provider HalDevice is not hal.Device", backend.ErrDeviceInit)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("%w: provider HalQueue is not hal.Queue", backend.ErrDeviceInit)
	}

	b.device = device
	b.queue = queue
	b.externalDevice = true
	slogger().Debug("native: using shared GPU device")
	return nil
}

// openDevice creates a standalone Vulkan device for compute-only use.
func (b *Backend) openDevice() error {
	vk, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("%w: vulkan backend not available", backend.ErrDeviceUnavailable)
	}
	instance, err := vk.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("%w: create instance: %w", backend.ErrDeviceUnavailable, err)
	}
	b.instance = instance

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("%w: no GPU adapters found", backend.ErrDeviceUnavailable)
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("%w: open device: %w", backend.ErrDeviceInit, err)
	}
	b.device = openDev.Device
	b.queue = openDev.Queue
	b.adapterName = selected.Info.Name

	slogger().Info("native: GPU initialized", "adapter", selected.Info.Name)
	return nil
}

// releaseDevice destroys the device and instance if this backend created them.
func (b *Backend) releaseDevice() {
	if !b.externalDevice && b.device != nil {
		b.device.Destroy()
	}
	if b.instance != nil {
		b.instance.Destroy()
	}
	b.instance = nil
	b.device = nil
	b.queue = nil
	b.externalDevice = false
	b.adapterName = ""
}

// Close destroys the kernels and, unless shared, the device.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pipes != nil {
		b.pipes.destroy()
		b.pipes = nil
	}
	b.releaseDevice()
}

// state returns the live device objects or ErrNotInitialized.
func (b *Backend) state() (hal.Device, hal.Queue, *pipelines, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pipes == nil {
		return nil, nil, nil, backend.ErrNotInitialized
	}
	return b.device, b.queue, b.pipes, nil
}

// buffer wraps a hal buffer.
type buffer struct {
	owner *Backend
	label string
	size  uint64
	raw   hal.Buffer
}

func (buf *buffer) Label() string { return buf.label }
func (buf *buffer) Size() uint64  { return buf.size }

func (b *Backend) own(buf backend.Buffer) (*buffer, error) {
	nb, ok := buf.(*buffer)
	if !ok || nb == nil || nb.owner != b || nb.raw == nil {
		return nil, backend.ErrForeignBuffer
	}
	return nb, nil
}

// halUsage maps buffer usage to hal usage flags.
func halUsage(u backend.BufferUsage) gputypes.BufferUsage {
	usage := gputypes.BufferUsageCopyDst
	if u&backend.UsageUniform != 0 {
		usage |= gputypes.BufferUsageUniform
	}
	if u&backend.UsageStorage != 0 || u == 0 {
		usage |= gputypes.BufferUsageStorage
	}
	if u&backend.UsageReadback != 0 {
		usage |= gputypes.BufferUsageCopySrc
	}
	return usage
}

// align4 rounds n up to a multiple of 4, the copy alignment of the device.
func align4(n uint64) uint64 { return (n + 3) &^ 3 }

// AllocateBuffer creates a zero-filled device buffer.
func (b *Backend) AllocateBuffer(desc backend.BufferDesc) (backend.Buffer, error) {
	device, queue, _, err := b.state()
	if err != nil {
		return nil, err
	}

	size := max(align4(desc.Size), 4)
	raw, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: halUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("native: create %s buffer: %w", desc.Label, err)
	}
	b.submitMu.Lock()
	queue.WriteBuffer(raw, 0, make([]byte, size))
	b.submitMu.Unlock()

	slogger().Debug("native: buffer allocated", "label", desc.Label, "bytes", size)
	return &buffer{owner: b, label: desc.Label, size: desc.Size, raw: raw}, nil
}

// ReleaseBuffer destroys the device buffer.
func (b *Backend) ReleaseBuffer(buf backend.Buffer) {
	nb, err := b.own(buf)
	if err != nil {
		return
	}
	device, _, _, err := b.state()
	if err != nil {
		return
	}
	device.DestroyBuffer(nb.raw)
	nb.raw = nil
}

// WriteBuffer uploads data into buf at offset. Offset must be 4-byte aligned.
func (b *Backend) WriteBuffer(buf backend.Buffer, offset uint64, data []byte) error {
	nb, err := b.own(buf)
	if err != nil {
		return err
	}
	if offset%4 != 0 {
		return fmt.Errorf("native: write offset %d is not 4-byte aligned", offset)
	}
	if offset+uint64(len(data)) > nb.size {
		return fmt.Errorf("native: write of %d bytes at %d overflows %q (%d bytes)",
			len(data), offset, nb.label, nb.size)
	}
	_, queue, _, err := b.state()
	if err != nil {
		return err
	}

	// Pad the tail so the copy size stays 4-byte aligned.
	if n := uint64(len(data)); n%4 != 0 {
		padded := make([]byte, align4(n))
		copy(padded, data)
		data = padded
	}

	b.submitMu.Lock()
	defer b.submitMu.Unlock()
	queue.WriteBuffer(nb.raw, offset, data)
	return nil
}

// Readback copies len(dst) bytes of buf at offset into dst through a
// staging buffer. Offset must be 4-byte aligned.
func (b *Backend) Readback(buf backend.Buffer, offset uint64, dst []byte) error {
	nb, err := b.own(buf)
	if err != nil {
		return fmt.Errorf("%w: %w", backend.ErrReadback, err)
	}
	if offset%4 != 0 {
		return fmt.Errorf("%w: offset %d is not 4-byte aligned", backend.ErrReadback, offset)
	}
	if offset+uint64(len(dst)) > nb.size {
		return fmt.Errorf("%w: read of %d bytes at %d overflows %q (%d bytes)",
			backend.ErrReadback, len(dst), offset, nb.label, nb.size)
	}
	if len(dst) == 0 {
		return nil
	}
	device, queue, _, err := b.state()
	if err != nil {
		return fmt.Errorf("%w: %w", backend.ErrReadback, err)
	}

	size := align4(uint64(len(dst)))
	staging, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: nb.label + "_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("%w: create staging buffer: %w", backend.ErrReadback, err)
	}
	defer device.DestroyBuffer(staging)

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "quant_readback"})
	if err != nil {
		return fmt.Errorf("%w: create command encoder: %w", backend.ErrReadback, err)
	}
	if err := encoder.BeginEncoding("quant_readback"); err != nil {
		return fmt.Errorf("%w: begin encoding: %w", backend.ErrReadback, err)
	}
	encoder.CopyBufferToBuffer(nb.raw, staging, []hal.BufferCopy{
		{SrcOffset: offset, DstOffset: 0, Size: size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("%w: end encoding: %w", backend.ErrReadback, err)
	}
	defer device.FreeCommandBuffer(cmdBuf)

	b.submitMu.Lock()
	defer b.submitMu.Unlock()

	if err := b.submit(context.Background(), device, queue, cmdBuf); err != nil {
		return fmt.Errorf("%w: %w", backend.ErrReadback, err)
	}

	out := make([]byte, size)
	if err := queue.ReadBuffer(staging, 0, out); err != nil {
		return fmt.Errorf("%w: %w", backend.ErrReadback, err)
	}
	copy(dst, out)
	return nil
}

// submit sends cmdBuf and waits for the fence. The wait is bounded by the
// fence timeout and the context deadline, whichever comes first.
func (b *Backend) submit(ctx context.Context, device hal.Device, queue hal.Queue, cmdBuf hal.CommandBuffer) error {
	fence, err := device.CreateFence()
	if err != nil {
		return fmt.Errorf("native: create fence: %w", err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}

	timeout := b.fenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(min(timeout, time.Until(deadline)), 0)
	}
	ok, err := device.Wait(fence, 1, timeout)
	if err != nil {
		return fmt.Errorf("native: wait for GPU: %w", err)
	}
	if !ok {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", backend.ErrDeviceTimeout, ctxErr)
		}
		return fmt.Errorf("%w: no completion after %v", backend.ErrDeviceTimeout, timeout)
	}
	return nil
}

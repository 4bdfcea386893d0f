// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package software provides the CPU reference implementation of the
// clustering kernels.
//
// Buffers live in host memory and each kernel launch runs its workgroups
// on a worker pool. Within a workgroup the threads are executed in order,
// and the reduce kernel combines per-thread sums with the same tree shape
// as the GPU shader, so results are bit-for-bit reproducible across runs.
//
// Importing this package registers the "software" backend:
//
//	import _ "github.com/gogpu/quant/backend/software"
package software

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/quant/backend"
	"github.com/gogpu/quant/internal/parallel"
)

func init() {
	backend.Register(backend.NameSoftware, func() backend.Backend {
		return New()
	})
}

// Option configures a software Backend.
type Option func(*Backend)

// WithWorkers sets the number of worker goroutines. Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(b *Backend) {
		b.workers = n
	}
}

// Backend is the CPU implementation of backend.Backend.
type Backend struct {
	mu      sync.Mutex
	pool    *parallel.Pool
	workers int
	log     atomic.Pointer[slog.Logger]
}

var (
	_ backend.Backend      = (*Backend)(nil)
	_ backend.LoggerSetter = (*Backend)(nil)
)

// New creates an uninitialized software backend.
func New(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		opt(b)
	}
	b.log.Store(slog.New(slog.DiscardHandler))
	return b
}

// Name returns "software".
func (b *Backend) Name() string { return backend.NameSoftware }

// SetLogger sets the logger for kernel diagnostics. Nil disables logging.
func (b *Backend) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	b.log.Store(l)
}

func (b *Backend) logger() *slog.Logger { return b.log.Load() }

// Init starts the worker pool. Calling Init on an initialized backend is a no-op.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		return nil
	}
	b.pool = parallel.NewPool(b.workers)
	b.logger().Debug("software: initialized", "workers", b.pool.Workers())
	return nil
}

// Close stops the worker pool.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
}

// Features reports FeatureTimestampQuery: command lists measure wall time.
func (b *Backend) Features() backend.Features { return backend.FeatureTimestampQuery }

func (b *Backend) workerPool() (*parallel.Pool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool == nil {
		return nil, backend.ErrNotInitialized
	}
	return b.pool, nil
}

// buffer is host memory standing in for a device buffer.
type buffer struct {
	owner *Backend
	label string
	data  []byte
}

func (buf *buffer) Label() string { return buf.label }
func (buf *buffer) Size() uint64  { return uint64(len(buf.data)) }

func (b *Backend) own(buf backend.Buffer) (*buffer, error) {
	sb, ok := buf.(*buffer)
	if !ok || sb == nil || sb.owner != b {
		return nil, backend.ErrForeignBuffer
	}
	return sb, nil
}

// AllocateBuffer creates a zero-filled host buffer.
func (b *Backend) AllocateBuffer(desc backend.BufferDesc) (backend.Buffer, error) {
	if _, err := b.workerPool(); err != nil {
		return nil, err
	}
	return &buffer{owner: b, label: desc.Label, data: make([]byte, desc.Size)}, nil
}

// ReleaseBuffer drops the buffer memory.
func (b *Backend) ReleaseBuffer(buf backend.Buffer) {
	if sb, err := b.own(buf); err == nil {
		sb.data = nil
	}
}

// WriteBuffer copies data into buf at offset.
func (b *Backend) WriteBuffer(buf backend.Buffer, offset uint64, data []byte) error {
	sb, err := b.own(buf)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > uint64(len(sb.data)) {
		return fmt.Errorf("software: write of %d bytes at %d overflows %q (%d bytes)",
			len(data), offset, sb.label, len(sb.data))
	}
	copy(sb.data[offset:], data)
	return nil
}

// Readback copies len(dst) bytes of buf at offset into dst.
func (b *Backend) Readback(buf backend.Buffer, offset uint64, dst []byte) error {
	sb, err := b.own(buf)
	if err != nil {
		return fmt.Errorf("%w: %w", backend.ErrReadback, err)
	}
	if offset+uint64(len(dst)) > uint64(len(sb.data)) {
		return fmt.Errorf("%w: read of %d bytes at %d overflows %q (%d bytes)",
			backend.ErrReadback, len(dst), offset, sb.label, len(sb.data))
	}
	copy(dst, sb.data[offset:])
	return nil
}

type dispatch struct {
	kernel   backend.Kernel
	bindings backend.Bindings
	grid     backend.Grid
}

// commandList records dispatches for deferred execution in SubmitAndWait.
type commandList struct {
	owner    *Backend
	label    string
	cmds     []dispatch
	elapsed  time.Duration
	timed    bool
	released bool
}

var _ backend.KernelTimer = (*commandList)(nil)

// NewCommandList starts recording a new submission.
func (b *Backend) NewCommandList(label string) (backend.CommandList, error) {
	if _, err := b.workerPool(); err != nil {
		return nil, err
	}
	return &commandList{owner: b, label: label}, nil
}

func (cl *commandList) Dispatch(k backend.Kernel, bindings *backend.Bindings, grid backend.Grid) error {
	if cl.released {
		return fmt.Errorf("software: %s: command list %q already released", k, cl.label)
	}
	if k >= backend.KernelCount {
		return fmt.Errorf("software: unknown kernel %s", k)
	}
	if err := backend.CheckBindings(k, bindings); err != nil {
		return err
	}
	for _, slot := range k.Layout() {
		if _, err := cl.owner.own(slot.Buffer(bindings)); err != nil {
			return fmt.Errorf("software: %s: %s: %w", k, slot.Name, err)
		}
	}
	cl.cmds = append(cl.cmds, dispatch{kernel: k, bindings: *bindings, grid: grid})
	return nil
}

func (cl *commandList) Release() {
	cl.released = true
	cl.cmds = nil
}

// KernelTime returns the wall time of the last submission.
func (cl *commandList) KernelTime() (time.Duration, bool) {
	return cl.elapsed, cl.timed
}

// SubmitAndWait runs the recorded dispatches in order.
// The context is checked before each dispatch.
func (b *Backend) SubmitAndWait(ctx context.Context, list backend.CommandList) error {
	cl, ok := list.(*commandList)
	if !ok || cl.owner != b {
		return fmt.Errorf("software: command list belongs to a different backend")
	}
	if cl.released {
		return fmt.Errorf("software: command list %q already released", cl.label)
	}
	pool, err := b.workerPool()
	if err != nil {
		return err
	}

	start := time.Now()
	for _, d := range cl.cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := run(pool, d); err != nil {
			return err
		}
	}
	cl.elapsed = time.Since(start)
	cl.timed = true

	b.logger().Debug("software: submitted",
		"label", cl.label,
		"dispatches", len(cl.cmds),
		"elapsed", cl.elapsed)
	return nil
}

// run validates buffer sizes against the params uniform and launches d.
func run(pool *parallel.Pool, d dispatch) error {
	pb := d.bindings.Params.(*buffer)
	p, err := backend.ParseParams(pb.data)
	if err != nil {
		return err
	}
	if err := backend.CheckSizes(d.kernel, p, &d.bindings); err != nil {
		return err
	}

	m := memory(d.bindings)
	switch d.kernel {
	case backend.KernelAssign:
		assign(pool, p, m, d.grid)
	case backend.KernelReduce:
		reduce(pool, p, m, d.grid)
	case backend.KernelUpdate:
		update(pool, p, m, d.grid)
	case backend.KernelComposite:
		composite(pool, p, m, d.grid)
	}
	return nil
}

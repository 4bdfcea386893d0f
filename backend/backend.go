// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Device and dispatch errors. Backends wrap these with fmt.Errorf("...: %w")
// so callers can classify failures with errors.Is.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrDeviceUnavailable reports that no compatible compute device was found.
	ErrDeviceUnavailable = errors.New("backend: no compatible compute device")

	// ErrDeviceInit reports that a device was found but could not be opened.
	ErrDeviceInit = errors.New("backend: device initialization failed")

	// ErrShaderCompile reports that a kernel failed to build for the device.
	ErrShaderCompile = errors.New("backend: kernel compilation failed")

	// ErrReadback reports that device memory could not be copied back to the host.
	ErrReadback = errors.New("backend: readback failed")

	// ErrDeviceTimeout reports that the device did not signal completion in time.
	ErrDeviceTimeout = errors.New("backend: device timeout")

	// ErrForeignBuffer is returned when a buffer created by another backend is used.
	ErrForeignBuffer = errors.New("backend: buffer belongs to a different backend")
)

// BufferUsage describes how a buffer is accessed.
type BufferUsage uint32

const (
	// UsageStorage marks a buffer bound as a storage buffer.
	UsageStorage BufferUsage = 1 << iota

	// UsageUniform marks a buffer bound as a uniform buffer.
	UsageUniform

	// UsageUpload marks a buffer written from the host with WriteBuffer.
	UsageUpload

	// UsageReadback marks a buffer copied back to the host with Readback.
	UsageReadback
)

// BufferDesc describes a device buffer allocation.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// Buffer is a device-resident byte buffer.
type Buffer interface {
	Label() string
	Size() uint64
}

// Features is a bit set of optional device capabilities.
type Features uint32

const (
	// FeatureTimestampQuery means command lists report kernel execution time.
	FeatureTimestampQuery Features = 1 << iota
)

// Has reports whether all bits of f2 are set in f.
func (f Features) Has(f2 Features) bool { return f&f2 == f2 }

// Grid is a dispatch size in workgroups.
type Grid struct {
	X, Y, Z uint32
}

// Bindings names the buffers a kernel may bind. Each kernel reads only the
// slots listed in its layout (see Kernel); unused slots may be nil.
type Bindings struct {
	Params      Buffer
	Pixels      Buffer
	Centroids   Buffer
	Assignments Buffer
	Partials    Buffer
	Moved       Buffer
	Output      Buffer
}

// CommandList records kernel dispatches for a single submission.
// Dispatches execute in recording order, each one observing every write
// made by the dispatches recorded before it.
type CommandList interface {
	// Dispatch records one kernel launch over grid.
	Dispatch(k Kernel, b *Bindings, grid Grid) error

	// Release frees resources held by the list. Safe to call more than once.
	Release()
}

// KernelTimer is implemented by command lists of backends that support
// FeatureTimestampQuery. The value is valid after SubmitAndWait returns.
type KernelTimer interface {
	KernelTime() (time.Duration, bool)
}

// Backend is a compute device able to run the clustering kernels.
//
// Implementations are safe for concurrent use by independent jobs: every
// piece of job state lives in buffers and command lists owned by the caller.
type Backend interface {
	// Name returns the backend identifier (e.g., "software", "native").
	Name() string

	// Init acquires the device and builds the kernels.
	// Returns errors wrapping ErrDeviceUnavailable, ErrDeviceInit or ErrShaderCompile.
	Init() error

	// Close releases the device. The backend must not be used afterwards.
	Close()

	// Features reports optional capabilities.
	Features() Features

	// AllocateBuffer creates a zero-filled device buffer.
	AllocateBuffer(desc BufferDesc) (Buffer, error)

	// ReleaseBuffer frees a buffer. Nil buffers are ignored.
	ReleaseBuffer(buf Buffer)

	// WriteBuffer copies host bytes into buf at offset.
	WriteBuffer(buf Buffer, offset uint64, data []byte) error

	// NewCommandList starts recording a new submission.
	NewCommandList(label string) (CommandList, error)

	// SubmitAndWait executes a recorded list and blocks until the device is done.
	SubmitAndWait(ctx context.Context, cl CommandList) error

	// Readback copies len(dst) bytes of buf starting at offset to dst.
	// Returns an error wrapping ErrReadback on failure.
	Readback(buf Buffer, offset uint64, dst []byte) error
}

// LoggerSetter is implemented by backends that accept a logger.
type LoggerSetter interface {
	SetLogger(*slog.Logger)
}

// CheckBindings verifies that every buffer the kernel binds is present.
func CheckBindings(k Kernel, b *Bindings) error {
	if b == nil {
		return fmt.Errorf("backend: %s: nil bindings", k)
	}
	for _, slot := range k.Layout() {
		if slot.Buffer(b) == nil {
			return fmt.Errorf("backend: %s: binding %d (%s) is nil", k, slot.Binding, slot.Name)
		}
	}
	return nil
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package quant

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/quant/backend"
)

// Result is the outcome of one clustering run.
type Result struct {
	// Image is the quantized image. It never aliases the input.
	Image *Image

	// Centroids is the final centroid set in cluster index order.
	Centroids []Centroid

	// Palette holds the centroids as 8-bit colors, same order as Centroids.
	Palette []color.NRGBA

	// Iterations is the number of Assign/Update rounds that ran.
	Iterations int

	// Converged is false when the iteration ceiling stopped the run.
	Converged bool

	// KernelTime is the accumulated device time of all submissions.
	// Valid only when HasKernelTime is true.
	KernelTime    time.Duration
	HasKernelTime bool

	// Backend is the name of the backend that ran the kernels.
	Backend string
}

// Engine runs clustering jobs on one compute backend.
//
// The backend is resolved on the first Run. An Engine is safe for
// concurrent use: every Run owns its own centroid, assignment and output
// buffers, so independent jobs never share state.
type Engine struct {
	opts options

	mu     sync.Mutex
	b      backend.Backend
	owned  bool
	closed bool

	timingWarned atomic.Bool
}

// New creates an engine configured by opts.
func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{opts: o}
}

// Quantize reduces img to at most k colors with a one-shot engine.
//
// Example:
//
//	out, err := quant.Quantize(ctx, img, 8, quant.WithSeed(1))
func Quantize(ctx context.Context, img *Image, k int, opts ...Option) (*Image, error) {
	e := New(opts...)
	defer e.Close()

	res, err := e.Run(ctx, img, k)
	if err != nil {
		return nil, err
	}
	return res.Image, nil
}

// Backend returns the engine's backend, initializing it if needed.
func (e *Engine) Backend() (backend.Backend, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if e.b != nil {
		return e.b, nil
	}

	var (
		b   backend.Backend
		err error
	)
	switch {
	case e.opts.backend != nil:
		b = e.opts.backend
		if err = b.Init(); err != nil {
			return nil, err
		}
	case e.opts.backendName != "":
		b = backend.Get(e.opts.backendName)
		if b == nil {
			return nil, fmt.Errorf("%w: %q (registered: %v)",
				ErrBackendNotAvailable, e.opts.backendName, backend.Available())
		}
		if err = b.Init(); err != nil {
			return nil, err
		}
		e.owned = true
	default:
		if b, err = backend.InitDefault(); err != nil {
			return nil, err
		}
		e.owned = true
	}

	e.b = b
	trackBackend(b)
	Logger().Info("quant: backend selected", "backend", b.Name())
	return b, nil
}

// Close releases the backend if the engine created it. Close is idempotent
// and must not be called while a Run is in progress.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	if e.b == nil {
		return
	}
	untrackBackend(e.b)
	if e.owned {
		e.b.Close()
	}
	e.b = nil
}

// Run clusters the pixels of img into k colors and composites the result.
//
// The image and k are validated before any backend work. Iterations run
// until no centroid moves by more than the tolerance or the iteration
// ceiling is reached. ctx is checked between iterations; an iteration in
// flight always completes. On error no image is returned.
func (e *Engine) Run(ctx context.Context, img *Image, k int) (*Result, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if err := validateK(k, img.PixelCount()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	initial, err := InitCentroids(img, k, e.opts.seed)
	if err != nil {
		return nil, err
	}

	b, err := e.Backend()
	if err != nil {
		return nil, err
	}

	j, err := newJob(b, img, initial, &e.opts)
	if err != nil {
		return nil, err
	}
	defer j.release()

	res := &Result{Backend: b.Name()}
	if err := e.iterate(ctx, j, res); err != nil {
		return nil, err
	}
	if err := e.finalize(ctx, j, res); err != nil {
		return nil, err
	}

	res.HasKernelTime = j.timed && b.Features().Has(backend.FeatureTimestampQuery)
	if res.HasKernelTime {
		res.KernelTime = j.kernelTime
	} else if e.timingWarned.CompareAndSwap(false, true) {
		Logger().Warn("quant: kernel timing unavailable", "backend", b.Name())
	}

	Logger().Info("quant: job finished",
		"backend", res.Backend,
		"width", img.Width,
		"height", img.Height,
		"k", k,
		"iterations", res.Iterations,
		"converged", res.Converged)
	return res, nil
}

// iterate runs Assign then Reduce/Update until convergence or the ceiling.
// Each round is one submission, so the centroids and assignments a round
// writes become visible together.
func (e *Engine) iterate(ctx context.Context, j *job, res *Result) error {
	// Submissions are not interrupted; ctx only stops between rounds.
	devCtx := context.WithoutCancel(ctx)

	for iter := 1; iter <= e.opts.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		label := fmt.Sprintf("quant_iteration_%d", iter)
		if err := j.submit(devCtx, label, backend.KernelAssign, backend.KernelReduce, backend.KernelUpdate); err != nil {
			return fmt.Errorf("quant: iteration %d: %w", iter, err)
		}
		moved, err := j.moved()
		if err != nil {
			return fmt.Errorf("quant: iteration %d: %w", iter, err)
		}
		res.Iterations = iter

		// A single cluster always holds every pixel, so its first mean is final.
		converged := !moved || j.k == 1

		Logger().Debug("quant: iteration",
			"iteration", iter,
			"converged", converged)

		if converged {
			res.Converged = true
			return nil
		}
	}

	Logger().Warn("quant: iteration ceiling reached without convergence",
		"max_iterations", e.opts.maxIterations,
		"k", j.k)
	return nil
}

// finalize assigns against the final centroids, composites the output and
// reads back the image and palette.
func (e *Engine) finalize(ctx context.Context, j *job, res *Result) error {
	if err := j.submit(context.WithoutCancel(ctx), "quant_finalize", backend.KernelAssign, backend.KernelComposite); err != nil {
		return fmt.Errorf("quant: finalize: %w", err)
	}

	img, err := j.output()
	if err != nil {
		return fmt.Errorf("quant: finalize: %w", err)
	}
	centroids, err := j.centroids()
	if err != nil {
		return fmt.Errorf("quant: finalize: %w", err)
	}

	res.Image = img
	res.Centroids = centroids
	res.Palette = make([]color.NRGBA, len(centroids))
	for i, c := range centroids {
		res.Palette[i] = c.NRGBA()
	}
	return nil
}

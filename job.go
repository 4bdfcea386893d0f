package quant

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gogpu/quant/backend"
)

// job owns the device buffers of one clustering run. Jobs share nothing, so
// one backend can run several of them at once.
type job struct {
	b          backend.Backend
	params     backend.Params
	bind       backend.Bindings
	buffers    []backend.Buffer
	width      int
	height     int
	k          int
	kernelTime time.Duration
	timed      bool
}

// newJob allocates and uploads every buffer the kernels bind: params,
// pixels, initial centroids and the sentinel-filled assignment buffer.
func newJob(b backend.Backend, img *Image, centroids []Centroid, o *options) (*job, error) {
	k := len(centroids)
	p := backend.NewParams(uint32(img.Width), uint32(img.Height), uint32(k)) //nolint:gosec // validated
	p.ChannelMask = uint32(o.channels)
	p.AlphaPolicy = uint32(o.alpha)
	p.Tolerance = o.tolerance

	j := &job{b: b, params: p, width: img.Width, height: img.Height, k: k, timed: true}

	storage := backend.UsageStorage
	allocs := []struct {
		slot  string
		usage backend.BufferUsage
		dst   *backend.Buffer
	}{
		{"params", backend.UsageUniform | backend.UsageUpload, &j.bind.Params},
		{"pixels", storage | backend.UsageUpload, &j.bind.Pixels},
		{"centroids", storage | backend.UsageUpload | backend.UsageReadback, &j.bind.Centroids},
		{"assignments", storage | backend.UsageUpload, &j.bind.Assignments},
		{"partials", storage, &j.bind.Partials},
		{"moved", storage | backend.UsageReadback, &j.bind.Moved},
		{"output", storage | backend.UsageReadback, &j.bind.Output},
	}
	for _, a := range allocs {
		size := p.BufferSize(a.slot)
		buf, err := b.AllocateBuffer(backend.BufferDesc{Label: "quant_" + a.slot, Size: size, Usage: a.usage})
		if err != nil {
			j.release()
			return nil, fmt.Errorf("quant: allocate %s (%d bytes): %w", a.slot, size, err)
		}
		*a.dst = buf
		j.buffers = append(j.buffers, buf)
	}

	uploads := []struct {
		buf  backend.Buffer
		data []byte
	}{
		{j.bind.Params, p.Bytes()},
		{j.bind.Pixels, pixelBytes(img.Pix)},
		{j.bind.Centroids, centroidBytes(centroids)},
		{j.bind.Assignments, sentinelAssignments(img.PixelCount(), k)},
	}
	for _, u := range uploads {
		if err := b.WriteBuffer(u.buf, 0, u.data); err != nil {
			j.release()
			return nil, fmt.Errorf("quant: upload %s: %w", u.buf.Label(), err)
		}
	}

	Logger().Debug("quant: buffers allocated",
		"width", img.Width,
		"height", img.Height,
		"k", k,
		"reduce_groups", p.ReduceGroups,
		"output_stride", p.OutputStrideWords*4)
	return j, nil
}

func (j *job) release() {
	for _, buf := range j.buffers {
		j.b.ReleaseBuffer(buf)
	}
	j.buffers = nil
}

// submit records the kernels into one command list, submits it and blocks
// until the device is done. Kernel timings are accumulated while every
// submitted list reports one.
func (j *job) submit(ctx context.Context, label string, kernels ...backend.Kernel) error {
	cl, err := j.b.NewCommandList(label)
	if err != nil {
		return err
	}
	defer cl.Release()

	w, h := uint32(j.width), uint32(j.height) //nolint:gosec // validated
	for _, k := range kernels {
		var grid backend.Grid
		switch k {
		case backend.KernelAssign, backend.KernelComposite:
			grid = backend.TileGrid(w, h)
		case backend.KernelReduce:
			grid = backend.ReduceGrid(j.params.PixelCount)
		case backend.KernelUpdate:
			grid = backend.UpdateGrid(j.params.K)
		}
		if err := cl.Dispatch(k, &j.bind, grid); err != nil {
			return err
		}
	}

	if err := j.b.SubmitAndWait(ctx, cl); err != nil {
		return err
	}

	if t, ok := cl.(backend.KernelTimer); ok && j.timed {
		if d, ok := t.KernelTime(); ok {
			j.kernelTime += d
			return nil
		}
	}
	j.timed = false
	return nil
}

// moved reads the displacement flags and reports whether any is set.
func (j *job) moved() (bool, error) {
	buf := make([]byte, j.params.BufferSize("moved"))
	if err := j.b.Readback(j.bind.Moved, 0, buf); err != nil {
		return false, err
	}
	for i := 0; i+4 <= len(buf); i += 4 {
		if binary.LittleEndian.Uint32(buf[i:]) != 0 {
			return true, nil
		}
	}
	return false, nil
}

// centroids reads the current centroid set.
func (j *job) centroids() ([]Centroid, error) {
	buf := make([]byte, j.params.BufferSize("centroids"))
	if err := j.b.Readback(j.bind.Centroids, 0, buf); err != nil {
		return nil, err
	}
	return parseCentroids(buf, j.k), nil
}

// output reads the composited image and strips the row padding.
func (j *job) output() (*Image, error) {
	padded := make([]byte, j.params.BufferSize("output"))
	if err := j.b.Readback(j.bind.Output, 0, padded); err != nil {
		return nil, err
	}
	pix, err := Unpad(padded, j.width, j.height)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadback, err)
	}
	return &Image{Width: j.width, Height: j.height, Pix: pix}, nil
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/quant/backend"
	"github.com/gogpu/quant/internal/parallel"
)

// vec4 mirrors vec4<f32>.
type vec4 [4]float32

// mem holds the raw bytes of the bound buffers. Unbound slots are nil.
type mem struct {
	pixels, centroids, assignments, partials, moved, output []byte
}

func memory(b backend.Bindings) mem {
	bytesOf := func(buf backend.Buffer) []byte {
		if sb, ok := buf.(*buffer); ok && sb != nil {
			return sb.data
		}
		return nil
	}
	return mem{
		pixels:      bytesOf(b.Pixels),
		centroids:   bytesOf(b.Centroids),
		assignments: bytesOf(b.Assignments),
		partials:    bytesOf(b.Partials),
		moved:       bytesOf(b.Moved),
		output:      bytesOf(b.Output),
	}
}

var le = binary.LittleEndian

func loadU32(b []byte, i int) uint32     { return le.Uint32(b[i*4:]) }
func storeU32(b []byte, i int, v uint32) { le.PutUint32(b[i*4:], v) }

func loadVec4(b []byte, i int) vec4 {
	o := i * 16
	return vec4{
		math.Float32frombits(le.Uint32(b[o:])),
		math.Float32frombits(le.Uint32(b[o+4:])),
		math.Float32frombits(le.Uint32(b[o+8:])),
		math.Float32frombits(le.Uint32(b[o+12:])),
	}
}

func storeVec4(b []byte, i int, v vec4) {
	o := i * 16
	for c := range 4 {
		le.PutUint32(b[o+c*4:], math.Float32bits(v[c]))
	}
}

// partial mirrors the Partial struct of reduce.wgsl: vec4 sum, u32 count, 12 bytes pad.
func loadPartial(b []byte, i int) (sum vec4, count uint32) {
	o := i * backend.PartialSize
	for c := range 4 {
		sum[c] = math.Float32frombits(le.Uint32(b[o+c*4:]))
	}
	return sum, le.Uint32(b[o+16:])
}

func storePartial(b []byte, i int, sum vec4, count uint32) {
	o := i * backend.PartialSize
	for c := range 4 {
		le.PutUint32(b[o+c*4:], math.Float32bits(sum[c]))
	}
	le.PutUint32(b[o+16:], count)
	clear(b[o+20 : o+backend.PartialSize])
}

// maskVec4 expands a channel mask into 0/1 weights.
func maskVec4(mask uint32) vec4 {
	var m vec4
	for c := range 4 {
		if mask&(1<<c) != 0 {
			m[c] = 1
		}
	}
	return m
}

// distance2 is the squared distance over the masked channels.
func distance2(a, b, m vec4) float32 {
	var d float32
	for c := range 4 {
		t := (a[c] - b[c]) * m[c]
		d += t * t
	}
	return d
}

// assign writes the index of the nearest centroid for every pixel.
// Ties resolve to the lowest index.
func assign(pool *parallel.Pool, p backend.Params, m mem, grid backend.Grid) {
	mask := maskVec4(p.ChannelMask)
	k := int(p.K)
	centroids := make([]vec4, k)
	for c := range centroids {
		centroids[c] = loadVec4(m.centroids, c)
	}

	groups := int(grid.X * grid.Y)
	pool.For(groups, func(g int) {
		gx, gy := uint32(g)%grid.X, uint32(g)/grid.X //nolint:gosec // group index fits grid
		for ly := range uint32(backend.TileSize) {
			y := gy*backend.TileSize + ly
			if y >= p.Height {
				return
			}
			for lx := range uint32(backend.TileSize) {
				x := gx*backend.TileSize + lx
				if x >= p.Width {
					break
				}
				idx := int(y*p.Width + x)
				px := loadVec4(m.pixels, idx)

				best := uint32(0)
				bestD := float32(math.Inf(1))
				for c := range k {
					if d := distance2(px, centroids[c], mask); d < bestD {
						bestD = d
						best = uint32(c) //nolint:gosec // c < K <= pixel count
					}
				}
				storeU32(m.assignments, idx, best)
			}
		}
	})
}

// reduce writes one {sum, count} partial per workgroup and cluster.
//
// Thread t of workgroup g owns pixels g*256*NSeq + t + i*256 for i < NSeq.
// Each thread sums its own pixels in order, then the 256 per-thread values
// are combined pairwise with strides 128, 64, ..., 1.
func reduce(pool *parallel.Pool, p backend.Params, m mem, grid backend.Grid) {
	k := int(p.K)
	n := int(p.PixelCount)
	nseq := int(p.NSeq)
	if nseq == 0 {
		nseq = backend.NSeq
	}
	span := backend.WorkgroupSize * nseq

	pool.For(int(grid.X), func(g int) {
		base := g * span

		// Per-thread assignment cache. k marks "no pixel".
		cache := make([]uint32, span)
		present := make(map[uint32]struct{})
		for t := range backend.WorkgroupSize {
			for i := range nseq {
				idx := base + t + i*backend.WorkgroupSize
				a := uint32(k) //nolint:gosec // k <= pixel count
				if idx < n {
					a = loadU32(m.assignments, idx)
				}
				cache[t*nseq+i] = a
				if a < uint32(k) { //nolint:gosec // k <= pixel count
					present[a] = struct{}{}
				}
			}
		}

		for c := range k {
			storePartial(m.partials, g*k+c, vec4{}, 0)
		}

		var sums [backend.WorkgroupSize]vec4
		var counts [backend.WorkgroupSize]uint32
		for c := range present {
			for t := range backend.WorkgroupSize {
				var s vec4
				var cnt uint32
				for i := range nseq {
					if cache[t*nseq+i] != c {
						continue
					}
					px := loadVec4(m.pixels, base+t+i*backend.WorkgroupSize)
					for ch := range 4 {
						s[ch] += px[ch]
					}
					cnt++
				}
				sums[t] = s
				counts[t] = cnt
			}
			for stride := backend.WorkgroupSize / 2; stride > 0; stride /= 2 {
				for t := range stride {
					for ch := range 4 {
						sums[t][ch] += sums[t+stride][ch]
					}
					counts[t] += counts[t+stride]
				}
			}
			storePartial(m.partials, g*k+int(c), sums[0], counts[0])
		}
	})
}

// update combines the partials of all reduce workgroups into new centroids.
// A cluster with no pixels keeps its previous centroid. moved[c] is 1 when
// the centroid moved farther than the tolerance over the masked channels.
func update(pool *parallel.Pool, p backend.Params, m mem, grid backend.Grid) {
	k := int(p.K)
	groups := int(p.ReduceGroups)
	mask := maskVec4(p.ChannelMask)
	tol2 := p.Tolerance * p.Tolerance

	threads := int(grid.X) * backend.WorkgroupSize
	pool.For(min(threads, k), func(c int) {
		var sum vec4
		var count uint32
		for g := range groups {
			s, n := loadPartial(m.partials, g*k+c)
			for ch := range 4 {
				sum[ch] += s[ch]
			}
			count += n
		}

		old := loadVec4(m.centroids, c)
		next := old
		if count > 0 {
			inv := float32(count)
			for ch := range 4 {
				next[ch] = sum[ch] / inv
			}
		}

		var moved uint32
		if distance2(next, old, mask) > tol2 {
			moved = 1
		}
		storeVec4(m.centroids, c, next)
		storeU32(m.moved, c, moved)
	})
}

// composite writes the assigned centroid color of every pixel as packed
// RGBA8 (R in the low byte) into rows of OutputStrideWords words.
func composite(pool *parallel.Pool, p backend.Params, m mem, grid backend.Grid) {
	k := p.K
	centroids := make([]vec4, k)
	for c := range centroids {
		centroids[c] = loadVec4(m.centroids, c)
	}

	groups := int(grid.X * grid.Y)
	pool.For(groups, func(g int) {
		gx, gy := uint32(g)%grid.X, uint32(g)/grid.X //nolint:gosec // group index fits grid
		for ly := range uint32(backend.TileSize) {
			y := gy*backend.TileSize + ly
			if y >= p.Height {
				return
			}
			for lx := range uint32(backend.TileSize) {
				x := gx*backend.TileSize + lx
				if x >= p.Width {
					break
				}
				idx := int(y*p.Width + x)
				a := min(loadU32(m.assignments, idx), k-1)
				color := centroids[a]
				if p.AlphaPolicy == backend.AlphaSource {
					color[3] = loadVec4(m.pixels, idx)[3]
				}
				storeU32(m.output, int(y*p.OutputStrideWords+x), backend.Pack(color))
			}
		}
	})
}

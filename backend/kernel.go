// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// TileSize is the edge of the square pixel tile handled by one workgroup of
	// the assign and composite kernels. Matches @workgroup_size(16, 16).
	TileSize = 16

	// WorkgroupSize is the thread count of the reduce and update kernels.
	// Matches WG_SIZE in reduce.wgsl and update.wgsl.
	WorkgroupSize = 256

	// NSeq is the number of pixels each reduce thread accumulates sequentially
	// before the workgroup combine. Matches N_SEQ in reduce.wgsl.
	NSeq = 24

	// RowPitchAlignment is the byte alignment of output rows in device memory.
	RowPitchAlignment = 256

	// ParamsSize is the byte size of the Params uniform.
	ParamsSize = 48

	// PartialSize is the byte size of one {vec4<f32> sum, u32 count} partial,
	// padded to the 16-byte alignment of vec4.
	PartialSize = 32

	// CentroidSize is the byte size of one vec4<f32> centroid.
	CentroidSize = 16

	// MaxBindingSize is the largest storage buffer a kernel may bind, the
	// WebGPU default maxStorageBufferBindingSize.
	MaxBindingSize = 128 << 20

	// MaxPixels is the largest pixel count the kernels can index with u32.
	MaxPixels = math.MaxUint32
)

// Kernel identifies one compute stage.
type Kernel uint8

const (
	// KernelAssign writes the nearest centroid index of every pixel.
	KernelAssign Kernel = iota

	// KernelReduce accumulates per-workgroup color sums and counts per cluster.
	KernelReduce

	// KernelUpdate combines the partials of all workgroups into new centroids
	// and flags the centroids whose displacement exceeds the tolerance.
	KernelUpdate

	// KernelComposite writes each pixel's centroid color as packed RGBA8.
	KernelComposite

	// KernelCount is the number of kernels.
	KernelCount
)

// String returns the kernel name used for shader files and labels.
func (k Kernel) String() string {
	switch k {
	case KernelAssign:
		return "assign"
	case KernelReduce:
		return "reduce"
	case KernelUpdate:
		return "update"
	case KernelComposite:
		return "composite"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Access is the binding type of a kernel slot.
type Access uint8

const (
	AccessUniform Access = iota
	AccessRead
	AccessReadWrite
)

// Slot describes one @binding of a kernel's bind group 0.
type Slot struct {
	Binding uint32
	Name    string
	Access  Access
	Buffer  func(*Bindings) Buffer
}

var (
	slotParams      = func(b *Bindings) Buffer { return b.Params }
	slotPixels      = func(b *Bindings) Buffer { return b.Pixels }
	slotCentroids   = func(b *Bindings) Buffer { return b.Centroids }
	slotAssignments = func(b *Bindings) Buffer { return b.Assignments }
	slotPartials    = func(b *Bindings) Buffer { return b.Partials }
	slotMoved       = func(b *Bindings) Buffer { return b.Moved }
	slotOutput      = func(b *Bindings) Buffer { return b.Output }
)

// Layout returns the bindings of k. The order and access modes match the
// @group(0) @binding(N) declarations of the corresponding WGSL shader.
func (k Kernel) Layout() []Slot {
	switch k {
	case KernelAssign:
		return []Slot{
			{0, "params", AccessUniform, slotParams},
			{1, "pixels", AccessRead, slotPixels},
			{2, "centroids", AccessRead, slotCentroids},
			{3, "assignments", AccessReadWrite, slotAssignments},
		}
	case KernelReduce:
		return []Slot{
			{0, "params", AccessUniform, slotParams},
			{1, "pixels", AccessRead, slotPixels},
			{2, "assignments", AccessRead, slotAssignments},
			{3, "partials", AccessReadWrite, slotPartials},
		}
	case KernelUpdate:
		return []Slot{
			{0, "params", AccessUniform, slotParams},
			{1, "partials", AccessRead, slotPartials},
			{2, "centroids", AccessReadWrite, slotCentroids},
			{3, "moved", AccessReadWrite, slotMoved},
		}
	case KernelComposite:
		return []Slot{
			{0, "params", AccessUniform, slotParams},
			{1, "pixels", AccessRead, slotPixels},
			{2, "centroids", AccessRead, slotCentroids},
			{3, "assignments", AccessRead, slotAssignments},
			{4, "output", AccessReadWrite, slotOutput},
		}
	default:
		return nil
	}
}

// Channel mask bits selecting the components used by the distance metric.
const (
	ChannelR uint32 = 1 << iota
	ChannelG
	ChannelB
	ChannelA

	ChannelRGB  = ChannelR | ChannelG | ChannelB
	ChannelRGBA = ChannelRGB | ChannelA
)

// Alpha policies of the composite kernel.
const (
	AlphaCentroid uint32 = 0
	AlphaSource   uint32 = 1
)

// Params is the uniform shared by all kernels. Its byte layout matches the
// Params struct declared at the top of every WGSL shader.
type Params struct {
	Width             uint32
	Height            uint32
	K                 uint32
	PixelCount        uint32
	NSeq              uint32
	ChannelMask       uint32
	OutputStrideWords uint32
	ReduceGroups      uint32
	AlphaPolicy       uint32
	Tolerance         float32
}

// NewParams fills Params for a width x height image and k clusters.
// width*height must not exceed MaxPixels.
func NewParams(width, height, k uint32) Params {
	n := width * height
	return Params{
		Width:             width,
		Height:            height,
		K:                 k,
		PixelCount:        n,
		NSeq:              NSeq,
		ChannelMask:       ChannelRGBA,
		OutputStrideWords: uint32(PaddedBytesPerRow(width) / 4), //nolint:gosec // stride of a u32-sized image fits
		ReduceGroups:      ReduceGroups(n),
	}
}

// Bytes serializes p in little-endian order.
func (p Params) Bytes() []byte {
	buf := make([]byte, ParamsSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], p.Width)
	le.PutUint32(buf[4:8], p.Height)
	le.PutUint32(buf[8:12], p.K)
	le.PutUint32(buf[12:16], p.PixelCount)
	le.PutUint32(buf[16:20], p.NSeq)
	le.PutUint32(buf[20:24], p.ChannelMask)
	le.PutUint32(buf[24:28], p.OutputStrideWords)
	le.PutUint32(buf[28:32], p.ReduceGroups)
	le.PutUint32(buf[32:36], p.AlphaPolicy)
	le.PutUint32(buf[36:40], math.Float32bits(p.Tolerance))
	return buf
}

// ParseParams decodes a Params uniform.
func ParseParams(buf []byte) (Params, error) {
	if len(buf) < ParamsSize {
		return Params{}, fmt.Errorf("backend: params buffer is %d bytes, want %d", len(buf), ParamsSize)
	}
	le := binary.LittleEndian
	return Params{
		Width:             le.Uint32(buf[0:4]),
		Height:            le.Uint32(buf[4:8]),
		K:                 le.Uint32(buf[8:12]),
		PixelCount:        le.Uint32(buf[12:16]),
		NSeq:              le.Uint32(buf[16:20]),
		ChannelMask:       le.Uint32(buf[20:24]),
		OutputStrideWords: le.Uint32(buf[24:28]),
		ReduceGroups:      le.Uint32(buf[28:32]),
		AlphaPolicy:       le.Uint32(buf[32:36]),
		Tolerance:         math.Float32frombits(le.Uint32(buf[36:40])),
	}, nil
}

// BufferSize returns the minimum byte size of the named binding slot for a
// job described by p. Unknown slot names return 0.
func (p Params) BufferSize(slot string) uint64 {
	n := uint64(p.PixelCount)
	k := uint64(p.K)
	switch slot {
	case "params":
		return ParamsSize
	case "pixels":
		return n * 16
	case "centroids":
		return k * CentroidSize
	case "assignments":
		return n * 4
	case "partials":
		return uint64(p.ReduceGroups) * k * PartialSize
	case "moved":
		return k * 4
	case "output":
		return uint64(p.OutputStrideWords) * 4 * uint64(p.Height)
	default:
		return 0
	}
}

// CheckSizes verifies that every buffer bound by k is large enough for p.
func CheckSizes(k Kernel, p Params, b *Bindings) error {
	if err := CheckBindings(k, b); err != nil {
		return err
	}
	for _, slot := range k.Layout() {
		want := p.BufferSize(slot.Name)
		if got := slot.Buffer(b).Size(); got < want {
			return fmt.Errorf("backend: %s: %s buffer is %d bytes, need %d", k, slot.Name, got, want)
		}
	}
	return nil
}

// WorkgroupCount returns the ceiling division of (width, height) by the
// workgroup extent, so partially covered edge tiles are still launched.
func WorkgroupCount(width, height, groupWidth, groupHeight uint32) (x, y uint32) {
	x = (width + groupWidth - 1) / groupWidth
	y = (height + groupHeight - 1) / groupHeight
	return x, y
}

// TileGrid returns the dispatch grid of the assign and composite kernels.
func TileGrid(width, height uint32) Grid {
	x, y := WorkgroupCount(width, height, TileSize, TileSize)
	return Grid{X: x, Y: y, Z: 1}
}

// ReduceGroups returns the number of reduce workgroups for n pixels.
// Each workgroup covers WorkgroupSize*NSeq pixels.
func ReduceGroups(n uint32) uint32 {
	per := uint32(WorkgroupSize * NSeq)
	return n/per + min(n%per, 1)
}

// MaxClusters returns the largest cluster count whose partials buffer for
// n pixels fits in MaxBindingSize.
func MaxClusters(n uint32) uint32 {
	groups := uint64(max(ReduceGroups(n), 1))
	return uint32(min(MaxBindingSize/(groups*PartialSize), math.MaxUint32)) //nolint:gosec // bounded by min
}

// ReduceGrid returns the dispatch grid of the reduce kernel.
func ReduceGrid(n uint32) Grid {
	return Grid{X: ReduceGroups(n), Y: 1, Z: 1}
}

// UpdateGrid returns the dispatch grid of the update kernel: one thread per cluster.
func UpdateGrid(k uint32) Grid {
	return Grid{X: (k + WorkgroupSize - 1) / WorkgroupSize, Y: 1, Z: 1}
}

// PaddedBytesPerRow returns width*4 rounded up to RowPitchAlignment.
func PaddedBytesPerRow(width uint32) int {
	bytesPerRow := int(width) * 4
	padding := (RowPitchAlignment - bytesPerRow%RowPitchAlignment) % RowPitchAlignment
	return bytesPerRow + padding
}

// Quantize8 converts a normalized channel value to 8 bits:
// floor(clamp(v, 0, 1) * 255 + 0.5).
func Quantize8(v float32) uint32 {
	if !(v > 0) { // also catches NaN
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint32(math.Floor(float64(v*255 + 0.5)))
}

// Pack packs a color into a little-endian RGBA8 word, R in the low byte.
func Pack(c [4]float32) uint32 {
	return Quantize8(c[0]) | Quantize8(c[1])<<8 | Quantize8(c[2])<<16 | Quantize8(c[3])<<24
}

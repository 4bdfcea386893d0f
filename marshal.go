package quant

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/quant/backend"
)

// unorm8 converts an 8-bit channel to [0, 1].
func unorm8(v uint8) float32 { return float32(v) / 255 }

// PaddedStride returns the device row pitch for an image width:
// ceil(width*4 / 256) * 256 bytes.
func PaddedStride(width int) int {
	return backend.PaddedBytesPerRow(uint32(width)) //nolint:gosec // width validated by caller
}

// pixelBytes converts RGBA8 pixels to little-endian vec4<f32> in [0, 1].
func pixelBytes(pix []uint8) []byte {
	out := make([]byte, len(pix)*4)
	for i, v := range pix {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(unorm8(v)))
	}
	return out
}

// centroidBytes serializes centroids as k x vec4<f32>.
func centroidBytes(cs []Centroid) []byte {
	out := make([]byte, len(cs)*backend.CentroidSize)
	for i, c := range cs {
		for ch := range 4 {
			binary.LittleEndian.PutUint32(out[i*backend.CentroidSize+ch*4:], math.Float32bits(c[ch]))
		}
	}
	return out
}

// parseCentroids decodes k x vec4<f32>.
func parseCentroids(buf []byte, k int) []Centroid {
	out := make([]Centroid, k)
	for i := range out {
		for ch := range 4 {
			out[i][ch] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*backend.CentroidSize+ch*4:]))
		}
	}
	return out
}

// sentinelAssignments returns n u32 words set to k, the "unassigned" label.
func sentinelAssignments(n, k int) []byte {
	out := make([]byte, n*4)
	for i := range n {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(k)) //nolint:gosec // k <= pixel count
	}
	return out
}

// Unpad strips device row padding: it copies the first width*4 bytes of each
// paddedStride-byte row into a tightly packed width*height*4 buffer.
func Unpad(padded []byte, width, height int) ([]byte, error) {
	stride := PaddedStride(width)
	row := width * 4
	if height > 0 && len(padded) < (height-1)*stride+row {
		return nil, fmt.Errorf("quant: padded buffer is %d bytes, %dx%d needs %d",
			len(padded), width, height, (height-1)*stride+row)
	}
	out := make([]byte, row*height)
	for y := range height {
		copy(out[y*row:(y+1)*row], padded[y*stride:y*stride+row])
	}
	return out, nil
}

// Pad lays out a tightly packed buffer with device row padding. Padding
// bytes are zero.
func Pad(tight []byte, width, height int) []byte {
	stride := PaddedStride(width)
	row := width * 4
	out := make([]byte, stride*height)
	for y := range height {
		copy(out[y*stride:y*stride+row], tight[y*row:(y+1)*row])
	}
	return out
}

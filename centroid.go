package quant

import (
	"image/color"
	"math/rand/v2"

	"github.com/gogpu/quant/backend"
)

// Centroid is a cluster color with normalized R, G, B, A components.
type Centroid [4]float32

// NRGBA converts the centroid to 8-bit channels, rounding half up.
func (c Centroid) NRGBA() color.NRGBA {
	return color.NRGBA{
		R: uint8(backend.Quantize8(c[0])),
		G: uint8(backend.Quantize8(c[1])),
		B: uint8(backend.Quantize8(c[2])),
		A: uint8(backend.Quantize8(c[3])),
	}
}

// pcgStream is the fixed second word of the PCG state.
const pcgStream = 0x9e3779b97f4a7c15

// maxDrawsPerCentroid bounds random draws before the initializer switches to
// a scan from a random offset.
const maxDrawsPerCentroid = 64

// InitCentroids seeds k centroids from k distinct pixel positions chosen
// uniformly without replacement by a PRNG seeded with seed.
//
// A draw is rejected when its position was already chosen. While the image
// still holds colors no centroid has taken, a draw repeating an already
// chosen color is rejected too, so k up to the number of distinct colors
// always yields k distinct centroids. After k*64 draws the remaining
// centroids are taken by scanning from a random offset with the same rules,
// which keeps the cost bounded as k approaches the pixel count.
func InitCentroids(img *Image, k int, seed uint64) ([]Centroid, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	n := img.PixelCount()
	if err := validateK(k, n); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, pcgStream)) //nolint:gosec // reproducible sampling, not security
	distinct := img.DistinctColors()

	chosenPos := make(map[int]struct{}, k)
	chosenColor := make(map[uint32]struct{}, k)
	out := make([]Centroid, 0, k)

	take := func(idx int) {
		p := img.Pix[idx*4 : idx*4+4]
		chosenPos[idx] = struct{}{}
		chosenColor[packPixel(p)] = struct{}{}
		out = append(out, Centroid{unorm8(p[0]), unorm8(p[1]), unorm8(p[2]), unorm8(p[3])})
	}
	accept := func(idx int) bool {
		if _, ok := chosenPos[idx]; ok {
			return false
		}
		if len(chosenColor) < distinct {
			if _, ok := chosenColor[packPixel(img.Pix[idx*4:idx*4+4])]; ok {
				return false
			}
		}
		return true
	}

	for draws := 0; draws < k*maxDrawsPerCentroid && len(out) < k; draws++ {
		if idx := rng.IntN(n); accept(idx) {
			take(idx)
		}
	}

	// Two passes: the first may skip duplicate colors that the second needs.
	start := rng.IntN(n)
	for i := 0; i < 2*n && len(out) < k; i++ {
		if idx := (start + i) % n; accept(idx) {
			take(idx)
		}
	}

	Logger().Debug("quant: centroids initialized",
		"k", k,
		"distinct_colors", distinct,
		"seed", seed)
	return out, nil
}

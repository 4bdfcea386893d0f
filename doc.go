// Package quant reduces an RGBA image to a palette of K colors with k-means
// clustering on a compute backend.
//
// # Overview
//
// quant seeds K centroids from K distinct pixels, then alternates two kernels
// until the centroids stop moving: an assignment kernel that maps every pixel
// to its nearest centroid, and a reduction kernel that recomputes each
// centroid as the mean of its pixels. A composite kernel finally writes every
// pixel as its centroid's color.
//
// # Quick Start
//
//	import "github.com/gogpu/quant"
//
//	img := quant.FromImage(src) // any image.Image
//	out, err := quant.Quantize(ctx, img, 16)
//	if err != nil {
//	    return err
//	}
//	png.Encode(w, out) // *quant.Image implements image.Image
//
// # Backends
//
// Kernels run on a backend.Backend. The software backend is always
// registered and runs the kernels on a CPU worker pool. Import the gpu
// package to register the native backend, which runs the same kernels as
// WGSL compute shaders through gogpu/wgpu:
//
//	import _ "github.com/gogpu/quant/gpu"
//
// Without an explicit choice the engine takes the first backend that
// initializes, native before software.
//
// # Determinism
//
// For a given image, K and seed the output is bit-identical across runs and
// across backends with the same kernels. Ties in the nearest-centroid search
// go to the lowest cluster index, and partial sums are combined in a fixed
// order.
//
// # Alpha
//
// By default alpha takes part in the distance and is quantized with color
// (AlphaFromCentroid). WithAlphaPolicy(AlphaFromSource) keeps the source
// alpha byte of every pixel; WithChannels(ChannelRGB) removes alpha from the
// distance.
//
// # Errors
//
// ErrInvalidK and ErrInvalidImage are reported before any backend work.
// Device failures wrap ErrDeviceUnavailable, ErrDeviceInit,
// ErrShaderCompile, ErrReadback or ErrDeviceTimeout. No image is returned
// together with an error.
package quant

import (
	// Registers the software backend so that the default engine always has
	// one.
	_ "github.com/gogpu/quant/backend/software"
)

// Package backend defines the compute device abstraction used by the
// clustering engine.
//
// A Backend exposes four primitives: buffer allocation, kernel dispatch
// recorded into a CommandList, a blocking SubmitAndWait, and Readback of
// device memory. The clustering algorithm in package quant is written only
// against these primitives, so the same engine runs on the CPU reference
// backend and on a GPU.
//
// # Kernels
//
// Four kernels make up one clustering job:
//
//	assign    -- per-pixel nearest centroid, 16x16 tiles
//	reduce    -- per-workgroup {sum, count} per cluster, 256 threads x N_SEQ pixels
//	update    -- cross-workgroup combine, new centroids, displacement flags
//	composite -- centroid color per pixel, packed RGBA8 with a 256-byte row pitch
//
// Buffer layouts are fixed by Params, Kernel.Layout and the size constants
// in this package; every backend must honour them byte for byte.
//
// # Backend Registration
//
// Backends register a Factory from init():
//
//	import _ "github.com/gogpu/quant/backend/software" // CPU reference
//	import _ "github.com/gogpu/quant/gpu"              // wgpu/Vulkan
//
// InitDefault picks the first backend in priority order (native, software)
// whose Init succeeds.
package backend

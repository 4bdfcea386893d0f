package quant

import (
	"errors"
	"fmt"

	"github.com/gogpu/quant/backend"
)

// Error kinds returned by Quantize and Engine.Run. Device errors are the
// backend sentinels, so errors.Is works with either package's names.
var (
	// ErrDeviceUnavailable reports that no compatible compute device was found.
	ErrDeviceUnavailable = backend.ErrDeviceUnavailable

	// ErrDeviceInit reports that a device was found but could not be opened.
	ErrDeviceInit = backend.ErrDeviceInit

	// ErrShaderCompile reports that a kernel failed to build for the device.
	ErrShaderCompile = backend.ErrShaderCompile

	// ErrReadback reports that device memory could not be copied back.
	ErrReadback = backend.ErrReadback

	// ErrDeviceTimeout reports that a device wait exceeded its bound.
	ErrDeviceTimeout = backend.ErrDeviceTimeout

	// ErrBackendNotAvailable is returned when the requested backend is not registered.
	ErrBackendNotAvailable = backend.ErrBackendNotAvailable

	// ErrInvalidK is returned when K is zero or larger than the pixel count.
	ErrInvalidK = errors.New("quant: invalid cluster count")

	// ErrInvalidImage is returned for images with zero size or a pixel buffer
	// whose length is not width*height*4.
	ErrInvalidImage = errors.New("quant: invalid image")

	// ErrClosed is returned by Engine.Run after Close.
	ErrClosed = errors.New("quant: engine closed")
)

// InvalidKError describes a rejected cluster count.
type InvalidKError struct {
	K      int
	Pixels int
}

func (e *InvalidKError) Error() string {
	switch {
	case e.K < 1:
		return fmt.Sprintf("quant: invalid cluster count %d: must be at least 1", e.K)
	case e.K > e.Pixels:
		return fmt.Sprintf("quant: invalid cluster count %d: image has only %d pixels", e.K, e.Pixels)
	default:
		return fmt.Sprintf("quant: invalid cluster count %d: at most %d clusters fit an image of %d pixels",
			e.K, maxClusters(e.Pixels), e.Pixels)
	}
}

// Unwrap returns ErrInvalidK.
func (e *InvalidKError) Unwrap() error { return ErrInvalidK }

// validateK checks 1 <= k <= pixels and that the partial sums of k clusters
// fit in one storage binding.
func validateK(k, pixels int) error {
	if k < 1 || k > pixels || k > maxClusters(pixels) {
		return &InvalidKError{K: k, Pixels: pixels}
	}
	return nil
}

// maxClusters is backend.MaxClusters for a validated pixel count.
func maxClusters(pixels int) int {
	if pixels <= 0 || uint64(pixels) > backend.MaxPixels {
		return 0
	}
	return int(backend.MaxClusters(uint32(pixels))) //nolint:gosec // pixels <= MaxPixels
}

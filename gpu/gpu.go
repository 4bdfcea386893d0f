//go:build !nogpu

// Package gpu registers the GPU backend for hardware-accelerated
// quantization.
//
// Importing this package makes the "native" backend (gogpu/wgpu, Vulkan)
// available to backend.InitDefault, which prefers it over the software
// backend. If no GPU can be opened at run time, InitDefault falls back to the
// next registered backend.
//
// Usage:
//
//	import _ "github.com/gogpu/quant/gpu" // enable GPU acceleration
package gpu

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/quant/backend"
	"github.com/gogpu/quant/backend/native"
)

// SetDeviceProvider makes the native backend use a shared GPU device from an
// external provider (e.g., gogpu) instead of opening its own.
//
// The provider must also implement HalDevice() any and HalQueue() any. The
// device is checked and the kernels are compiled once before the backend is
// re-registered; on error the previous registration is left untouched.
func SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	probe := native.New(native.WithDeviceProvider(provider))
	if err := probe.Init(); err != nil {
		return err
	}
	probe.Close()

	backend.Register(backend.NameNative, func() backend.Backend {
		return native.New(native.WithDeviceProvider(provider))
	})
	return nil
}

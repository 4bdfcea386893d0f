//go:build !nogpu

package native

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/naga"

	"github.com/gogpu/quant/backend"
)

//go:embed shaders/assign.wgsl
var assignShaderSource string

//go:embed shaders/reduce.wgsl
var reduceShaderSource string

//go:embed shaders/update.wgsl
var updateShaderSource string

//go:embed shaders/composite.wgsl
var compositeShaderSource string

// shaderSource returns the WGSL source of a kernel.
func shaderSource(k backend.Kernel) string {
	switch k {
	case backend.KernelAssign:
		return assignShaderSource
	case backend.KernelReduce:
		return reduceShaderSource
	case backend.KernelUpdate:
		return updateShaderSource
	case backend.KernelComposite:
		return compositeShaderSource
	default:
		return ""
	}
}

// compileSPIRV compiles WGSL source to SPIR-V words.
func compileSPIRV(k backend.Kernel) ([]uint32, error) {
	src := shaderSource(k)
	if src == "" {
		return nil, fmt.Errorf("%w: no source for kernel %s", backend.ErrShaderCompile, k)
	}

	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", backend.ErrShaderCompile, k, err)
	}

	// SPIR-V is little-endian 32-bit words
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return code, nil
}

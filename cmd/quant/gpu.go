//go:build !nogpu

package main

import _ "github.com/gogpu/quant/gpu" // enable GPU acceleration

// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

//go:build windows

// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU backend for GPU-accelerated tensor
// operations.
//
// Element-wise operations, scalar operations and MatMul run as WGSL compute
// shaders; every other operation is delegated to an embedded CPU backend,
// so the full tensor.Backend surface works regardless of what the GPU
// covers.
//
// Example:
//
//	import (
//	    "github.com/kiln-ml/kiln/autodiff"
//	    "github.com/kiln-ml/kiln/backend/webgpu"
//	    "github.com/kiln-ml/kiln/tensor"
//	)
//
//	func main() {
//	    gpu, err := webgpu.New()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer gpu.Release()
//
//	    backend := autodiff.New(gpu)
//	    x := tensor.Zeros[float32](tensor.Shape{1024, 1024}, backend)
//	}
package webgpu

import (
	internalwebgpu "github.com/kiln-ml/kiln/internal/backend/webgpu"
	"github.com/kiln-ml/kiln/tensor"
)

// Backend executes the hot tensor operations as WGSL compute pipelines and
// the rest on an embedded CPU backend.
type Backend = internalwebgpu.Backend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a new WebGPU backend.
//
// This initializes the WebGPU instance, adapter, device and queue and
// returns a backend ready for tensor operations. Call Release when done to
// free GPU resources.
//
// Returns an error if WebGPU initialization fails (no native library, no
// compatible GPU).
func New() (*Backend, error) {
	return internalwebgpu.New()
}

// IsAvailable checks if WebGPU is available on the current system.
//
// It attempts to initialize a WebGPU adapter to verify that a compatible
// GPU and drivers are present, and is useful for graceful fallback to the
// CPU backend:
//
//	if webgpu.IsAvailable() {
//	    gpu, _ := webgpu.New()
//	    backend = autodiff.New(gpu)
//	} else {
//	    backend = autodiff.New(cpu.New())
//	}
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}

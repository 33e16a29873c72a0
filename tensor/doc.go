// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides type-safe tensor operations for the Kiln engine.
//
// # Overview
//
// Tensors are the fundamental data structure in Kiln. This package provides:
//   - Generic type-safe tensors (Tensor[T, B])
//   - NumPy-style broadcasting
//   - Zero-copy views and reference-counted buffers
//   - Device abstraction (CPU, WebGPU)
//
// # Basic Usage
//
//	import (
//	    "github.com/kiln-ml/kiln/tensor"
//	    "github.com/kiln-ml/kiln/backend/cpu"
//	)
//
//	func main() {
//	    backend := cpu.New()
//
//	    // Create tensors
//	    x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	    y := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
//
//	    // Tensor operations
//	    z := x.Add(y)
//	    result := x.MatMul(y.Transpose())
//	}
//
// # Supported Data Types
//
// The tensor package supports the following data types via the DType constraint:
//   - float32, float64 (floating-point)
//   - int32, int64 (signed integers, labels and indices)
//   - uint8 (unsigned integers, raw image bytes)
//   - bool (boolean masks)
//
// # Device Support
//
// Tensors can reside on different devices:
//   - CPU: pure Go implementation with goroutine-parallel kernels
//   - WebGPU: zero-CGO GPU acceleration (Windows)
//
// # Broadcasting
//
// Element-wise operations follow NumPy broadcasting rules:
//
//	a := tensor.Zeros[float32](tensor.Shape{3, 1}, backend)     // (3, 1)
//	b := tensor.Ones[float32](tensor.Shape{3, 4}, backend)      // (3, 4)
//	c := a.Add(b)                                                // (3, 4)
//
// # Memory Management
//
// Tensor buffers are reference-counted. Clone shares the underlying buffer;
// backends reuse a buffer in place only while its reference count is one,
// so cloned tensors are never mutated through their siblings.
package tensor

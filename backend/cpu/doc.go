// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides a pure Go CPU backend for tensor operations.
//
// # Overview
//
// This package implements a CPU backend with:
//   - Pure Go implementation (no CGO)
//   - Goroutine-parallel kernels sized to the physical core count
//   - Im2col-based convolutions
//   - NumPy-compatible broadcasting
//
// # Basic Usage
//
//	import (
//	    "github.com/kiln-ml/kiln/backend/cpu"
//	    "github.com/kiln-ml/kiln/tensor"
//	    "github.com/kiln-ml/kiln/nn"
//	)
//
//	func main() {
//	    // Create CPU backend
//	    backend := cpu.New()
//
//	    // Use with tensors
//	    x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	    y := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
//	    z := x.Add(y)
//
//	    // Use with neural networks
//	    model := nn.NewLinear(784, 10, backend)
//	}
//
// # Performance
//
// Kernels fan out across physical cores when the loop is large enough to
// pay for the goroutine overhead; small tensors run single-threaded. SMT
// siblings are not counted since the compute-bound kernels gain nothing
// from them.
//
// For GPU acceleration, see the webgpu package (Windows).
//
// # Thread Safety
//
// The CPU backend is safe for concurrent use. Each tensor operation is
// isolated and does not share mutable state.
package cpu

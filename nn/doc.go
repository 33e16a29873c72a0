// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides neural network layers and building blocks.
//
// # Overview
//
// This package contains:
//   - Layers: Linear, Conv2D, MaxPool2D, BatchNorm2D, Flatten
//   - Activations: ReLU
//   - Loss functions: CrossEntropyLoss
//   - Utilities: Sequential, Module interface, Parameter
//   - Initialization: Xavier, Zeros, Ones, Seed
//   - Metrics: Accuracy, Softmax, Argmax
//
// # Basic Usage
//
//	import (
//	    "github.com/kiln-ml/kiln/nn"
//	    "github.com/kiln-ml/kiln/backend/cpu"
//	)
//
//	func main() {
//	    backend := cpu.New()
//
//	    // Build a small convolutional classifier
//	    model := nn.NewSequential(
//	        nn.NewConv2D(1, 16, 3, 1, 1, true, backend),
//	        nn.NewBatchNorm2D[*cpu.Backend](16, backend),
//	        nn.NewReLU[*cpu.Backend](),
//	        nn.NewMaxPool2D[*cpu.Backend](2, 2),
//	        nn.NewFlatten[*cpu.Backend](),
//	        nn.NewLinear(16*14*14, 10, backend),
//	    )
//
//	    // Forward pass
//	    output := model.Forward(input)
//	}
//
// # Training and Evaluation Mode
//
// BatchNorm2D behaves differently during training and inference. Flip the
// mode on a whole model with SetTraining; Sequential propagates the flag to
// every child:
//
//	nn.SetTraining[*cpu.Backend](model, false)  // switch to eval mode
//
// # Reproducibility
//
// Weight initialization draws from a package-level generator seeded with 1.
// Call Seed before constructing models to change it; two processes that seed
// identically and build the same architecture start from identical weights.
//
//	nn.Seed(42)
//	model := buildModel(backend)
//
// # Loss Functions
//
// CrossEntropyLoss combines log-softmax and negative log-likelihood in one
// module, taking int32 class labels as targets:
//
//	criterion := nn.NewCrossEntropyLoss(backend)
//	loss := criterion.Forward(logits, labels)
package nn

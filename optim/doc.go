// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for training neural networks.
//
// # Overview
//
// This package contains:
//   - SGD: stochastic gradient descent with momentum and weight decay
//   - Adam: adaptive moment estimation with bias correction
//   - Schedulers: StepLR, ExponentialLR, CosineAnnealingLR
//   - Optimizer and Scheduler interfaces for custom implementations
//
// # Basic Usage
//
//	import (
//	    "github.com/kiln-ml/kiln/optim"
//	    "github.com/kiln-ml/kiln/nn"
//	    "github.com/kiln-ml/kiln/autodiff"
//	    "github.com/kiln-ml/kiln/backend/cpu"
//	)
//
//	func main() {
//	    backend := autodiff.New(cpu.New())
//	    model := nn.NewLinear(784, 10, backend)
//
//	    optimizer := optim.NewSGD(model.Parameters(), optim.SGDConfig{
//	        LR:       0.01,
//	        Momentum: 0.9,
//	    })
//
//	    // Training step
//	    loss := criterion.Forward(model.Forward(x), y)
//	    optimizer.ZeroGrad()
//	    seed := tensor.OnesRaw(tensor.Shape{1}, backend.Device())
//	    grads := backend.Tape().Backward(loss.Raw(), seed, backend)
//	    if err := optimizer.Step(grads); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Gradient Maps
//
// Optimizers key gradients by the parameter's raw tensor identity, so the
// map returned by GradientTape.Backward can be passed straight to Step.
// Parameters absent from the map are skipped.
//
// # Learning Rate Schedules
//
// Schedulers wrap an optimizer and adjust its learning rate through SetLR,
// typically once per epoch after the batch loop:
//
//	scheduler, err := optim.NewStepLR(optimizer, 10, 0.1)  // x0.1 every 10 epochs
//	...
//	for epoch := range epochs {
//	    trainOneEpoch(model, optimizer)
//	    scheduler.Step()
//	}
//
// # Checkpointing
//
// StateDict exports internal optimizer buffers (momentum, moment estimates)
// for serialization and LoadStateDict restores them, so training can resume
// exactly where a checkpoint left off.
package optim

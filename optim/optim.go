// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Optimizer updates model parameters from a gradient map keyed by the
// parameter's raw tensor identity.
type Optimizer = optim.Optimizer

// Scheduler adjusts an optimizer's learning rate over epochs. Step is
// called once per epoch; LastLR reports the rate the next epoch will
// train with.
type Scheduler = optim.Scheduler

// SGD (Stochastic Gradient Descent)

// SGD implements stochastic gradient descent with optional momentum and
// weight decay.
type SGD[B tensor.Backend] = optim.SGD[B]

// SGDConfig configures the SGD optimizer. A zero LR defaults to 0.01.
type SGDConfig = optim.SGDConfig

// NewSGD creates a new SGD optimizer.
//
// Example:
//
//	optimizer := optim.NewSGD(model.Parameters(), optim.SGDConfig{
//	    LR:       0.01,
//	    Momentum: 0.9,
//	})
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], cfg SGDConfig) *SGD[B] {
	return optim.NewSGD(params, cfg)
}

// Adam (Adaptive Moment Estimation)

// Adam implements the Adam optimizer with bias correction.
type Adam[B tensor.Backend] = optim.Adam[B]

// AdamConfig configures the Adam optimizer. Zero values default to
// LR=0.001, Beta1=0.9, Beta2=0.999, Eps=1e-8.
type AdamConfig = optim.AdamConfig

// NewAdam creates a new Adam optimizer.
//
// Example:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{
//	    LR:    0.001,
//	    Beta1: 0.9,
//	    Beta2: 0.999,
//	})
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], cfg AdamConfig) *Adam[B] {
	return optim.NewAdam(params, cfg)
}

// Learning rate schedulers

// StepLR multiplies the learning rate by gamma every stepSize epochs.
type StepLR = optim.StepLR

// NewStepLR creates a step decay schedule.
//
// Example:
//
//	scheduler, err := optim.NewStepLR(optimizer, 10, 0.1)
func NewStepLR(opt Optimizer, stepSize int, gamma float32) (*StepLR, error) {
	return optim.NewStepLR(opt, stepSize, gamma)
}

// ExponentialLR multiplies the learning rate by gamma every epoch.
type ExponentialLR = optim.ExponentialLR

// NewExponentialLR creates an exponential decay schedule.
//
// Example:
//
//	scheduler, err := optim.NewExponentialLR(optimizer, 0.95)
func NewExponentialLR(opt Optimizer, gamma float32) (*ExponentialLR, error) {
	return optim.NewExponentialLR(opt, gamma)
}

// CosineAnnealingLR anneals the learning rate along a cosine curve from the
// initial rate down to etaMin over tMax epochs.
type CosineAnnealingLR = optim.CosineAnnealingLR

// NewCosineAnnealingLR creates a cosine annealing schedule.
//
// Example:
//
//	scheduler, err := optim.NewCosineAnnealingLR(optimizer, 50, 1e-5)
func NewCosineAnnealingLR(opt Optimizer, tMax int, etaMin float32) (*CosineAnnealingLR, error) {
	return optim.NewCosineAnnealingLR(opt, tMax, etaMin)
}

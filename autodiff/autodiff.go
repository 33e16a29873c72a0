// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides reverse-mode automatic differentiation.
//
// Backend wraps any compute backend as a decorator: every operation is
// forwarded to the wrapped backend and, while the tape is recording, a
// graph node is recorded per differentiable operation. Calling
// Tape().Backward replays the graph in reverse and returns a gradient per
// tensor.
//
// Example:
//
//	import (
//	    "github.com/kiln-ml/kiln/autodiff"
//	    "github.com/kiln-ml/kiln/backend/cpu"
//	    "github.com/kiln-ml/kiln/tensor"
//	)
//
//	func main() {
//	    backend := autodiff.New(cpu.New())
//	    backend.Tape().SetRecording(true)
//
//	    // Forward pass: operations recorded on the tape
//	    loss := criterion.Forward(model.Forward(x), y)
//
//	    // Backward pass
//	    seed := tensor.OnesRaw(tensor.Shape{1}, backend.Device())
//	    grads := backend.Tape().Backward(loss.Raw(), seed, backend)
//	    backend.Tape().Clear()
//	}
package autodiff

import (
	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Backend decorates an inner backend with gradient recording. It satisfies
// tensor.Backend, so models run identically with or without it.
type Backend[B tensor.Backend] = autodiff.Backend[B]

// New wraps a backend with a fresh gradient tape.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
func New[B tensor.Backend](inner B) *Backend[B] {
	return autodiff.New(inner)
}

// GradientTape records operations for automatic differentiation.
//
// The tape is owned by a Backend and reached through its Tape method.
// SetRecording gates recording, Backward walks the recorded graph in
// reverse, and Clear drops it so the next iteration starts fresh.
type GradientTape = autodiff.GradientTape

// NewGradientTape creates a standalone gradient tape.
//
// Most users never need this; New allocates a tape for its backend.
func NewGradientTape() *GradientTape {
	return autodiff.NewGradientTape()
}

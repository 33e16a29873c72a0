// Package ops defines the differentiable operations recorded on the
// gradient tape. Each operation keeps references to its forward inputs and
// output and knows how to turn the gradient at its output into gradients
// at its inputs.
package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// Operation is one node of the recorded computation graph.
type Operation interface {
	// Backward maps the gradient at the output to gradients at the inputs,
	// in the same order Inputs returns them. A nil entry means no gradient
	// flows to that input.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the forward input tensors.
	Inputs() []*tensor.RawTensor

	// Output returns the forward output tensor.
	Output() *tensor.RawTensor
}

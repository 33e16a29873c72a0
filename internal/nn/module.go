// Package nn provides the neural network building blocks of the Kiln
// engine: layers, the Sequential container, losses, and classification
// metrics. Modules compose over any tensor.Backend, so the same model
// definition trains under autodiff and runs inference on a bare backend.
package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Module is one component of a network.
type Module[B tensor.Backend] interface {
	// Forward computes the module output for the given input.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns the trainable parameters, nil for stateless
	// modules such as activations.
	Parameters() []*Parameter[B]

	// StateDict returns every persistent tensor keyed by name: trainable
	// parameters plus buffers such as batch-norm running statistics.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies matching entries into the module's tensors.
	LoadStateDict(state map[string]*tensor.RawTensor) error
}

// modeSwitch is implemented by modules whose forward pass differs between
// training and evaluation.
type modeSwitch interface {
	SetTraining(training bool)
}

// SetTraining flips the train/eval mode of a module. Containers propagate
// the flag to their children; modules without mode-dependent behavior are
// left alone.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	if ms, ok := m.(modeSwitch); ok {
		ms.SetTraining(training)
	}
}

// loadTensor validates shape and dtype before copying checkpoint data into
// a live tensor.
func loadTensor(dst *tensor.RawTensor, state map[string]*tensor.RawTensor, name string) error {
	src, ok := state[name]
	if !ok {
		return fmt.Errorf("missing %q in state dict", name)
	}
	if !src.Shape().Equal(dst.Shape()) {
		return fmt.Errorf("%s shape mismatch: checkpoint %v, module %v", name, src.Shape(), dst.Shape())
	}
	if src.DType() != dst.DType() {
		return fmt.Errorf("%s dtype mismatch: checkpoint %s, module %s", name, src.DType(), dst.DType())
	}
	copy(dst.Data(), src.Data())
	return nil
}

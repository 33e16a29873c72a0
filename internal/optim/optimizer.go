// Package optim implements the optimizers and learning-rate schedulers
// used by the training engine.
//
// Optimizers consume the gradient map produced by a backward pass and
// update parameters in place:
//
//	grads := backend.Tape().Backward(loss.Raw(), seed, backend)
//	if err := optimizer.Step(grads); err != nil {
//		return err
//	}
//	optimizer.ZeroGrad()
//
// Schedulers wrap an optimizer and adjust its learning rate once per
// epoch through SetLR.
package optim

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Optimizer updates model parameters from a gradient map. Implementations
// key gradients by the parameter's raw tensor identity, so the map from
// GradientTape.Backward can be passed straight through.
type Optimizer interface {
	// Step applies one update. Parameters absent from the map are
	// skipped; a present gradient with a mismatched shape is an error.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor) error

	// ZeroGrad drops gradient references held on the parameters.
	ZeroGrad()

	GetLR() float32
	SetLR(lr float32)

	// StateDict exports internal buffers (momentum, moment estimates)
	// for checkpointing.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict restores buffers exported by StateDict.
	LoadStateDict(state map[string]*tensor.RawTensor) error
}

// gradientFor looks up the gradient recorded for a parameter and checks it
// is usable for an element-wise update.
func gradientFor[B tensor.Backend](
	param *nn.Parameter[B],
	grads map[*tensor.RawTensor]*tensor.RawTensor,
) (*tensor.RawTensor, error) {
	grad, ok := grads[param.Raw()]
	if !ok {
		return nil, nil
	}
	if grad.NumElements() != param.Raw().NumElements() {
		return nil, fmt.Errorf("optim: gradient for %q has %d elements, parameter has %d",
			param.Name(), grad.NumElements(), param.Raw().NumElements())
	}
	return grad, nil
}

// stepCounter round-trips an integer through the RawTensor-valued state
// dict as a single-element Int64 tensor.
func stepCounter(t int) *tensor.RawTensor {
	raw, err := tensor.NewRaw(tensor.Shape{1}, tensor.Int64, tensor.CPU)
	if err != nil {
		panic(err)
	}
	raw.AsInt64()[0] = int64(t)
	return raw
}

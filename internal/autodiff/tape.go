package autodiff

import (
	"github.com/kiln-ml/kiln/internal/autodiff/ops"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// GradObserver inspects or replaces the gradient arriving at an operation
// during the reverse walk. Returning nil keeps the original gradient.
// Useful for gradient statistics and debugging hooks.
type GradObserver func(op ops.Operation, outputGrad *tensor.RawTensor) *tensor.RawTensor

// GradientTape records operations during the forward pass and replays them
// in reverse to accumulate gradients.
type GradientTape struct {
	operations []ops.Operation
	recording  bool
	observer   GradObserver
}

func NewGradientTape() *GradientTape {
	return &GradientTape{operations: make([]ops.Operation, 0, 64)}
}

// SetRecording toggles whether new operations land on the tape. The
// training loop switches this off around validation and evaluation
// forward passes.
func (t *GradientTape) SetRecording(on bool) { t.recording = on }

func (t *GradientTape) IsRecording() bool { return t.recording }

// Record appends an operation when recording is on.
func (t *GradientTape) Record(op ops.Operation) {
	if t.recording {
		t.operations = append(t.operations, op)
	}
}

// Clear drops all recorded operations; the recording flag is untouched.
// Call between iterations so tapes do not grow across batches.
func (t *GradientTape) Clear() {
	t.operations = t.operations[:0]
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int { return len(t.operations) }

// SetObserver installs a gradient observer for subsequent Backward calls.
// Pass nil to remove it.
func (t *GradientTape) SetObserver(obs GradObserver) { t.observer = obs }

// Backward seeds the given output with outputGrad and walks the tape in
// reverse, accumulating a gradient per tensor. Operations whose outputs
// never receive a gradient are skipped, so metric computations recorded
// after the loss do not disturb the result.
func (t *GradientTape) Backward(output, outputGrad *tensor.RawTensor, backend tensor.Backend) map[*tensor.RawTensor]*tensor.RawTensor {
	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	if len(t.operations) == 0 {
		return grads
	}

	// Gradient arithmetic must not append to the tape.
	wasRecording := t.recording
	t.recording = false
	defer func() { t.recording = wasRecording }()

	grads[output] = outputGrad

	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		grad, ok := grads[op.Output()]
		if !ok {
			continue
		}
		if t.observer != nil {
			if replaced := t.observer(op, grad); replaced != nil {
				grad = replaced
			}
		}
		inputGrads := op.Backward(grad, backend)
		t.accumulate(op.Inputs(), inputGrads, grads, backend)
	}
	return grads
}

func (t *GradientTape) accumulate(
	inputs, inputGrads []*tensor.RawTensor,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	backend tensor.Backend,
) {
	for i, input := range inputs {
		if i >= len(inputGrads) || inputGrads[i] == nil {
			continue
		}
		if existing, ok := grads[input]; ok {
			grads[input] = backend.Add(existing, inputGrads[i])
		} else {
			grads[input] = inputGrads[i]
		}
	}
}

package engine

import (
	"errors"
	"fmt"

	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Result carries what the loops need from one forward pass.
type Result struct {
	Loss     float32
	Accuracy float32

	// PredictedLabels is [N] int32; Softmax and Logits are [N, classes].
	PredictedLabels *tensor.RawTensor
	Softmax         *tensor.RawTensor
	Logits          *tensor.RawTensor
}

// Forward runs one batch through the model and the loss. train toggles
// gradient recording for the duration of the pass; the model's train/eval
// mode is switched by the calling loop, not here. The loss tensor is kept
// as the seed for the next Backward.
func (c *Classifier[B]) Forward(batch *data.Batch, train bool) *Result {
	tape := c.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.SetRecording(train)
	defer tape.SetRecording(wasRecording)

	input := tensor.New[float32](batch.Data, c.backend)
	labels := tensor.New[int32](batch.Labels, c.backend)

	logits := c.model.Forward(input)
	loss := c.loss.Forward(logits, labels)

	// Metric ops land on the tape after the loss, so a backward walk from
	// the loss never reaches them.
	softmax := c.backend.Softmax(logits.Raw(), 1)
	predicted := c.backend.Argmax(logits.Raw(), 1)

	c.lastLoss = loss.Raw()

	return &Result{
		Loss:            loss.Raw().AsFloat32()[0],
		Accuracy:        nn.Accuracy(logits, labels),
		PredictedLabels: predicted,
		Softmax:         softmax,
		Logits:          logits.Raw(),
	}
}

// Backward propagates gradients from the last recorded loss, applies one
// optimizer step and clears the tape.
func (c *Classifier[B]) Backward() error {
	if c.optimizer == nil {
		return errors.New("engine: optimizer not configured")
	}
	if c.lastLoss == nil {
		return errors.New("engine: backward needs a recorded forward pass")
	}
	c.optimizer.ZeroGrad()

	seed := tensor.OnesRaw(tensor.Shape{1}, c.backend.Device())
	grads := c.backend.Tape().Backward(c.lastLoss, seed, c.backend)
	c.backend.Tape().Clear()
	c.lastLoss = nil

	if err := c.optimizer.Step(grads); err != nil {
		return fmt.Errorf("engine: optimizer step: %w", err)
	}
	return nil
}

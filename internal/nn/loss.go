package nn

import (
	"math"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// CrossEntropyLoss combines a log-softmax over the class dimension with the
// negative log-likelihood of the target class, averaged over the batch.
// Targets are class indices, not one-hot vectors.
type CrossEntropyLoss[B tensor.Backend] struct {
	backend B
}

func NewCrossEntropyLoss[B tensor.Backend](backend B) *CrossEntropyLoss[B] {
	return &CrossEntropyLoss[B]{backend: backend}
}

// Forward returns the mean batch loss as a [1] tensor.
//
// Backends exposing the fused CrossEntropy kernel (the autodiff decorator
// does) get a single recorded op whose backward is the stable
// softmax-minus-one-hot form. Other backends fall back to a direct
// computation that does not participate in gradient recording.
func (c *CrossEntropyLoss[B]) Forward(
	logits *tensor.Tensor[float32, B],
	targets *tensor.Tensor[int32, B],
) *tensor.Tensor[float32, B] {
	type fused interface {
		CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor
	}
	if be, ok := any(c.backend).(fused); ok {
		return tensor.New[float32, B](be.CrossEntropy(logits.Raw(), targets.Raw()), c.backend)
	}

	shape := logits.Shape()
	if len(shape) != 2 {
		panic("nn: cross-entropy expects [batch, classes] logits")
	}
	batch, classes := shape[0], shape[1]
	targetData := targets.Raw().AsInt32()
	if len(targetData) != batch {
		panic("nn: cross-entropy targets must have shape [batch]")
	}
	logitData := logits.Raw().AsFloat32()

	var total float64
	for b := 0; b < batch; b++ {
		row := logitData[b*classes : (b+1)*classes]
		t := int(targetData[b])
		if t < 0 || t >= classes {
			panic("nn: cross-entropy target index out of range")
		}
		total += float64(logSumExp(row) - row[t])
	}

	out, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, c.backend.Device())
	if err != nil {
		panic(err)
	}
	out.AsFloat32()[0] = float32(total / float64(batch))
	return tensor.New[float32, B](out, c.backend)
}

func (c *CrossEntropyLoss[B]) Parameters() []*Parameter[B] { return nil }

// logSumExp shifts by the row maximum so exp never overflows float32.
func logSumExp(row []float32) float32 {
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v - max))
	}
	return max + float32(math.Log(sum))
}

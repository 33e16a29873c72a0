package nn

import "github.com/kiln-ml/kiln/internal/tensor"

// Softmax normalizes t along dim so each lane sums to one.
func Softmax[B tensor.Backend](t *tensor.Tensor[float32, B], dim int) *tensor.Tensor[float32, B] {
	b := t.Backend()
	return tensor.New[float32, B](b.Softmax(t.Raw(), dim), b)
}

// Argmax returns the index of the largest value along dim as an int32 tensor
// with that dimension removed.
func Argmax[B tensor.Backend](t *tensor.Tensor[float32, B], dim int) *tensor.Tensor[int32, B] {
	b := t.Backend()
	return tensor.New[int32, B](b.Argmax(t.Raw(), dim), b)
}

// Accuracy is the fraction of rows whose argmax matches the target index.
func Accuracy[B tensor.Backend](
	logits *tensor.Tensor[float32, B],
	targets *tensor.Tensor[int32, B],
) float32 {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic("nn: accuracy expects [batch, classes] logits")
	}
	batch, classes := shape[0], shape[1]
	logitData := logits.Raw().AsFloat32()
	targetData := targets.Raw().AsInt32()

	correct := 0
	for b := 0; b < batch; b++ {
		row := logitData[b*classes : (b+1)*classes]
		best := 0
		for i := 1; i < classes; i++ {
			if row[i] > row[best] {
				best = i
			}
		}
		if int32(best) == targetData[b] {
			correct++
		}
	}
	return float32(correct) / float32(batch)
}

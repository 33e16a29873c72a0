package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Flatten collapses every dimension after the batch into one, turning
// [N, C, H, W] feature maps into [N, C*H*W] rows for a Linear head.
type Flatten[B tensor.Backend] struct{}

func NewFlatten[B tensor.Backend]() *Flatten[B] { return &Flatten[B]{} }

func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("flatten: input must have a batch dimension, got %v", shape))
	}
	features := 1
	for _, s := range shape[1:] {
		features *= s
	}
	return input.Reshape(tensor.Shape{shape[0], features})
}

func (f *Flatten[B]) Parameters() []*Parameter[B] { return nil }

func (f *Flatten[B]) StateDict() map[string]*tensor.RawTensor { return nil }

func (f *Flatten[B]) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }

package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// MaxPool2D downsamples NCHW input by taking the maximum over square
// windows. It has no trainable parameters.
type MaxPool2D[B tensor.Backend] struct {
	kernelSize int
	stride     int
}

func NewMaxPool2D[B tensor.Backend](kernelSize, stride int) *MaxPool2D[B] {
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid geometry kernel=%d stride=%d", kernelSize, stride))
	}
	return &MaxPool2D[B]{kernelSize: kernelSize, stride: stride}
}

func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	be := input.Backend()
	out := be.MaxPool2D(input.Raw(), m.kernelSize, m.stride)
	return tensor.New[float32, B](out, be)
}

func (m *MaxPool2D[B]) Parameters() []*Parameter[B] { return nil }

func (m *MaxPool2D[B]) StateDict() map[string]*tensor.RawTensor { return nil }

func (m *MaxPool2D[B]) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }

func (m *MaxPool2D[B]) KernelSize() int { return m.kernelSize }
func (m *MaxPool2D[B]) Stride() int     { return m.stride }

package nn

import "github.com/kiln-ml/kiln/internal/tensor"

// ReLU applies max(0, x) element-wise.
type ReLU[B tensor.Backend] struct{}

func NewReLU[B tensor.Backend]() *ReLU[B] { return &ReLU[B]{} }

func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	be := input.Backend()
	return tensor.New[float32, B](be.ReLU(input.Raw()), be)
}

func (r *ReLU[B]) Parameters() []*Parameter[B] { return nil }

func (r *ReLU[B]) StateDict() map[string]*tensor.RawTensor { return nil }

func (r *ReLU[B]) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }

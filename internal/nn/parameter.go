package nn

import "github.com/kiln-ml/kiln/internal/tensor"

// Parameter is a named trainable tensor. The optimizer reads gradients by
// the parameter's raw tensor identity after a backward pass.
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
}

// NewParameter wraps an initialized tensor as a trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{name: name, tensor: t}
}

func (p *Parameter[B]) Name() string { return p.name }

func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] { return p.tensor }

// Raw returns the underlying raw tensor, the identity the gradient map and
// the optimizer key off.
func (p *Parameter[B]) Raw() *tensor.RawTensor { return p.tensor.Raw() }

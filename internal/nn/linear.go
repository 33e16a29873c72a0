package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Linear is a fully connected layer: y = x @ Wᵀ + b.
//
// The weight is stored as [outFeatures, inFeatures] and transposed in the
// forward pass, so checkpoints stay layout-compatible with the common
// convention.
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B]
	bias        *Parameter[B]
	backend     B
}

// NewLinear creates a Linear layer with Xavier-initialized weights and a
// zero bias.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("linear: invalid dimensions in=%d out=%d", inFeatures, outFeatures))
	}
	weight := Xavier(inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, backend)
	bias := Zeros(tensor.Shape{outFeatures}, backend)
	return &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", weight),
		bias:        NewParameter("bias", bias),
		backend:     backend,
	}
}

func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 2 || shape[1] != l.inFeatures {
		panic(fmt.Sprintf("linear: expected input [batch, %d], got %v", l.inFeatures, shape))
	}

	out := input.MatMul(l.weight.Tensor().Transpose())
	bias := l.bias.Tensor().Reshape(tensor.Shape{1, l.outFeatures})
	return out.Add(bias)
}

func (l *Linear[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.weight, l.bias}
}

func (l *Linear[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"weight": l.weight.Raw(),
		"bias":   l.bias.Raw(),
	}
}

func (l *Linear[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	if err := loadTensor(l.weight.Raw(), state, "weight"); err != nil {
		return err
	}
	return loadTensor(l.bias.Raw(), state, "bias")
}

func (l *Linear[B]) InFeatures() int  { return l.inFeatures }
func (l *Linear[B]) OutFeatures() int { return l.outFeatures }

// Weight exposes the weight parameter; attribution rules rewrite it when
// propagating relevance through the layer.
func (l *Linear[B]) Weight() *Parameter[B] { return l.weight }
func (l *Linear[B]) Bias() *Parameter[B]   { return l.bias }

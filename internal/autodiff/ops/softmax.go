package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// SoftmaxOp: output = softmax(input) along dim.
//
// Backward, written in terms of the forward output s:
//
//	dx = s * (grad - Σ_dim(grad * s))
type SoftmaxOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	dim    int
}

func NewSoftmaxOp(input, output *tensor.RawTensor, dim int) *SoftmaxOp {
	return &SoftmaxOp{input: input, output: output, dim: dim}
}

func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	s := op.output
	gs := backend.Mul(outputGrad.Clone(), s)
	dot := backend.SumDim(gs, op.dim, true)
	inner := backend.Sub(outputGrad.Clone(), dot)
	grad := backend.Mul(inner, s)
	return []*tensor.RawTensor{grad}
}

func (op *SoftmaxOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *SoftmaxOp) Output() *tensor.RawTensor   { return op.output }

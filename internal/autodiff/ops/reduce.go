package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// SumOp: output = Σ input over all elements. Every input element receives
// the scalar output gradient unchanged.
type SumOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

func NewSumOp(input, output *tensor.RawTensor) *SumOp {
	return &SumOp{input: input, output: output}
}

func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad := expandTo(outputGrad, op.input.Shape(), backend)
	return []*tensor.RawTensor{grad}
}

func (op *SumOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *SumOp) Output() *tensor.RawTensor   { return op.output }

// SumDimOp: output = Σ input along dim.
type SumDimOp struct {
	input   *tensor.RawTensor
	output  *tensor.RawTensor
	dim     int
	keepDim bool
}

func NewSumDimOp(input, output *tensor.RawTensor, dim int, keepDim bool) *SumDimOp {
	return &SumDimOp{input: input, output: output, dim: dim, keepDim: keepDim}
}

func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad := outputGrad
	if !op.keepDim {
		kept := op.input.Shape().Clone()
		kept[op.dim] = 1
		grad = backend.Reshape(grad, kept)
	}
	return []*tensor.RawTensor{expandTo(grad, op.input.Shape(), backend)}
}

func (op *SumDimOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *SumDimOp) Output() *tensor.RawTensor   { return op.output }

// MeanDimOp: output = mean of input along dim. The backward pass is the
// SumDim gradient scaled by 1/n.
type MeanDimOp struct {
	input   *tensor.RawTensor
	output  *tensor.RawTensor
	dim     int
	keepDim bool
}

func NewMeanDimOp(input, output *tensor.RawTensor, dim int, keepDim bool) *MeanDimOp {
	return &MeanDimOp{input: input, output: output, dim: dim, keepDim: keepDim}
}

func (op *MeanDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad := outputGrad
	if !op.keepDim {
		kept := op.input.Shape().Clone()
		kept[op.dim] = 1
		grad = backend.Reshape(grad, kept)
	}
	expanded := expandTo(grad, op.input.Shape(), backend)
	n := op.input.Shape()[op.dim]
	return []*tensor.RawTensor{backend.DivScalar(expanded, n)}
}

func (op *MeanDimOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *MeanDimOp) Output() *tensor.RawTensor   { return op.output }

// expandTo broadcasts a gradient up to the given shape by adding a zero
// tensor of that shape.
func expandTo(grad *tensor.RawTensor, shape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(shape) {
		return grad.Clone()
	}
	zeros, err := tensor.NewRaw(shape, grad.DType(), grad.Device())
	if err != nil {
		panic(err)
	}
	return backend.Add(zeros, grad)
}

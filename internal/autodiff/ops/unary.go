package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// ExpOp: output = exp(input), so dx = grad * output.
type ExpOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

func NewExpOp(input, output *tensor.RawTensor) *ExpOp {
	return &ExpOp{input: input, output: output}
}

func (op *ExpOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(outputGrad.Clone(), op.output)}
}

func (op *ExpOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *ExpOp) Output() *tensor.RawTensor   { return op.output }

// LogOp: output = log(input), so dx = grad / input.
type LogOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

func NewLogOp(input, output *tensor.RawTensor) *LogOp {
	return &LogOp{input: input, output: output}
}

func (op *LogOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Div(outputGrad.Clone(), op.input)}
}

func (op *LogOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *LogOp) Output() *tensor.RawTensor   { return op.output }

// SqrtOp: output = √input, so dx = grad / (2 * output).
type SqrtOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

func NewSqrtOp(input, output *tensor.RawTensor) *SqrtOp {
	return &SqrtOp{input: input, output: output}
}

func (op *SqrtOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	twoOut := backend.MulScalar(op.output.Clone(), 2)
	return []*tensor.RawTensor{backend.Div(outputGrad.Clone(), twoOut)}
}

func (op *SqrtOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *SqrtOp) Output() *tensor.RawTensor   { return op.output }

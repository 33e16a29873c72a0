package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// ReshapeOp: output = input viewed under a new shape. Without this node on
// the tape a gradient computed for the reshaped tensor would never reach
// the original parameter, for example a Conv2D bias reshaped to
// [1, C, 1, 1] for broadcasting.
type ReshapeOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

func NewReshapeOp(input, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{input: input, output: output}
}

func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.input.Shape())}
}

func (op *ReshapeOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *ReshapeOp) Output() *tensor.RawTensor   { return op.output }

// TransposeOp: output = input with permuted axes. The backward pass applies
// the inverse permutation, which is what lets a Linear layer's transposed
// weight hand its gradient back to the stored parameter.
type TransposeOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	axes   []int
}

func NewTransposeOp(input, output *tensor.RawTensor, axes []int) *TransposeOp {
	return &TransposeOp{input: input, output: output, axes: axes}
}

func (op *TransposeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inverse := make([]int, len(op.axes))
	for i, a := range op.axes {
		inverse[a] = i
	}
	return []*tensor.RawTensor{backend.Transpose(outputGrad, inverse...)}
}

func (op *TransposeOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *TransposeOp) Output() *tensor.RawTensor   { return op.output }

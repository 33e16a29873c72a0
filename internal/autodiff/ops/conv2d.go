package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// Conv2DOp: output = Conv2D(input, kernel, stride, padding). The backward
// pass delegates to the backend's dedicated gradient kernels.
type Conv2DOp struct {
	inputs  []*tensor.RawTensor
	output  *tensor.RawTensor
	stride  int
	padding int
}

func NewConv2DOp(input, kernel, output *tensor.RawTensor, stride, padding int) *Conv2DOp {
	return &Conv2DOp{
		inputs:  []*tensor.RawTensor{input, kernel},
		output:  output,
		stride:  stride,
		padding: padding,
	}
}

func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	input, kernel := op.inputs[0], op.inputs[1]
	gradInput := backend.Conv2DInputBackward(input, kernel, outputGrad, op.stride, op.padding)
	gradKernel := backend.Conv2DKernelBackward(input, kernel, outputGrad, op.stride, op.padding)
	return []*tensor.RawTensor{gradInput, gradKernel}
}

func (op *Conv2DOp) Inputs() []*tensor.RawTensor { return op.inputs }
func (op *Conv2DOp) Output() *tensor.RawTensor   { return op.output }

package ops

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// ReLUOp: output = max(0, input). Gradient passes where the input was
// positive and is blocked elsewhere.
type ReLUOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

func NewReLUOp(input, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{input: input, output: output}
}

func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad, err := tensor.NewRaw(op.input.Shape(), op.input.DType(), op.input.Device())
	if err != nil {
		panic(fmt.Sprintf("ReLUOp: %v", err))
	}
	switch op.input.DType() {
	case tensor.Float32:
		in, g, dst := op.input.AsFloat32(), outputGrad.AsFloat32(), grad.AsFloat32()
		for i, v := range in {
			if v > 0 {
				dst[i] = g[i]
			}
		}
	case tensor.Float64:
		in, g, dst := op.input.AsFloat64(), outputGrad.AsFloat64(), grad.AsFloat64()
		for i, v := range in {
			if v > 0 {
				dst[i] = g[i]
			}
		}
	default:
		panic(fmt.Sprintf("ReLUOp: unsupported dtype %s", op.input.DType()))
	}
	return []*tensor.RawTensor{grad}
}

func (op *ReLUOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *ReLUOp) Output() *tensor.RawTensor   { return op.output }

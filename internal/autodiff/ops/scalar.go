package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// ScalarKind selects the gradient rule for an operation against a scalar.
// Addition and subtraction pass the gradient through; multiplication and
// division scale it.
type ScalarKind int

const (
	ScalarAdd ScalarKind = iota
	ScalarSub
	ScalarMul
	ScalarDiv
)

// ScalarOp: output = x (op) scalar, with the scalar treated as a constant.
type ScalarOp struct {
	kind   ScalarKind
	scalar any
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

func NewScalarOp(kind ScalarKind, x *tensor.RawTensor, scalar any, output *tensor.RawTensor) *ScalarOp {
	return &ScalarOp{kind: kind, scalar: scalar, input: x, output: output}
}

func (op *ScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	switch op.kind {
	case ScalarAdd, ScalarSub:
		return []*tensor.RawTensor{outputGrad.Clone()}
	case ScalarMul:
		return []*tensor.RawTensor{backend.MulScalar(outputGrad.Clone(), op.scalar)}
	case ScalarDiv:
		return []*tensor.RawTensor{backend.DivScalar(outputGrad.Clone(), op.scalar)}
	}
	return nil
}

func (op *ScalarOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *ScalarOp) Output() *tensor.RawTensor   { return op.output }

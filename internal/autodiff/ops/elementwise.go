package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// AddOp: output = a + b. Gradient flows unchanged to both inputs, reduced
// over any broadcast dimensions.
type AddOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func NewAddOp(a, b, output *tensor.RawTensor) *AddOp {
	return &AddOp{inputs: []*tensor.RawTensor{a, b}, output: output}
}

func (op *AddOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	return []*tensor.RawTensor{
		reduceBroadcast(outputGrad, a.Shape(), backend),
		reduceBroadcast(outputGrad, b.Shape(), backend),
	}
}

func (op *AddOp) Inputs() []*tensor.RawTensor { return op.inputs }
func (op *AddOp) Output() *tensor.RawTensor   { return op.output }

// SubOp: output = a - b. The right input receives the negated gradient.
type SubOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func NewSubOp(a, b, output *tensor.RawTensor) *SubOp {
	return &SubOp{inputs: []*tensor.RawTensor{a, b}, output: output}
}

func (op *SubOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	return []*tensor.RawTensor{
		reduceBroadcast(outputGrad, a.Shape(), backend),
		reduceBroadcast(negate(outputGrad, backend), b.Shape(), backend),
	}
}

func (op *SubOp) Inputs() []*tensor.RawTensor { return op.inputs }
func (op *SubOp) Output() *tensor.RawTensor   { return op.output }

// MulOp: output = a * b. d/da = b, d/db = a.
type MulOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func NewMulOp(a, b, output *tensor.RawTensor) *MulOp {
	return &MulOp{inputs: []*tensor.RawTensor{a, b}, output: output}
}

func (op *MulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	gradA := backend.Mul(outputGrad.Clone(), b)
	gradB := backend.Mul(outputGrad.Clone(), a)
	return []*tensor.RawTensor{
		reduceBroadcast(gradA, a.Shape(), backend),
		reduceBroadcast(gradB, b.Shape(), backend),
	}
}

func (op *MulOp) Inputs() []*tensor.RawTensor { return op.inputs }
func (op *MulOp) Output() *tensor.RawTensor   { return op.output }

// DivOp: output = a / b. d/da = 1/b, d/db = -a/b².
type DivOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func NewDivOp(a, b, output *tensor.RawTensor) *DivOp {
	return &DivOp{inputs: []*tensor.RawTensor{a, b}, output: output}
}

func (op *DivOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]

	gradA := backend.Div(outputGrad.Clone(), b)

	// -grad * a / b²
	bSq := backend.Mul(b.Clone(), b)
	gradB := backend.Div(backend.Mul(negate(outputGrad, backend), a), bSq)

	return []*tensor.RawTensor{
		reduceBroadcast(gradA, a.Shape(), backend),
		reduceBroadcast(gradB, b.Shape(), backend),
	}
}

func (op *DivOp) Inputs() []*tensor.RawTensor { return op.inputs }
func (op *DivOp) Output() *tensor.RawTensor   { return op.output }

// Package autodiff adds reverse-mode automatic differentiation on top of
// any compute backend.
//
// Backend[B] is a decorator: it forwards every operation to the wrapped
// backend and, while the tape is recording, records a graph node per
// differentiable operation. Calling Tape().Backward replays the graph in
// reverse and returns a gradient per tensor.
//
//	be := autodiff.New(cpu.New())
//	be.Tape().SetRecording(true)
//	// ... forward pass ...
//	grads := be.Tape().Backward(loss, seed, be)
package autodiff

import (
	"github.com/kiln-ml/kiln/internal/autodiff/ops"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Backend decorates an inner backend with gradient recording. It satisfies
// tensor.Backend, so models run identically with or without it.
type Backend[B tensor.Backend] struct {
	inner B
	tape  *GradientTape
}

// New wraps a backend with a fresh gradient tape.
func New[B tensor.Backend](inner B) *Backend[B] {
	return &Backend[B]{inner: inner, tape: NewGradientTape()}
}

// Tape exposes the gradient tape for recording control and backward passes.
func (b *Backend[B]) Tape() *GradientTape { return b.tape }

// Inner returns the wrapped backend.
func (b *Backend[B]) Inner() B { return b.inner }

func (b *Backend[B]) Name() string          { return "Autodiff(" + b.inner.Name() + ")" }
func (b *Backend[B]) Device() tensor.Device { return b.inner.Device() }

// Recorded inputs are pinned non-unique for the duration of the inner
// call: a copy-on-write backend would otherwise be free to overwrite a
// uniquely held operand that the backward pass still needs.

func (b *Backend[B]) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()
	out := b.inner.Add(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAddOp(x, y, out))
	}
	return out
}

func (b *Backend[B]) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()
	out := b.inner.Sub(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSubOp(x, y, out))
	}
	return out
}

func (b *Backend[B]) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()
	out := b.inner.Mul(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMulOp(x, y, out))
	}
	return out
}

func (b *Backend[B]) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()
	out := b.inner.Div(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewDivOp(x, y, out))
	}
	return out
}

func (b *Backend[B]) AddScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return b.scalarOp(ops.ScalarAdd, x, scalar, b.inner.AddScalar)
}

func (b *Backend[B]) SubScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return b.scalarOp(ops.ScalarSub, x, scalar, b.inner.SubScalar)
}

func (b *Backend[B]) MulScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return b.scalarOp(ops.ScalarMul, x, scalar, b.inner.MulScalar)
}

func (b *Backend[B]) DivScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return b.scalarOp(ops.ScalarDiv, x, scalar, b.inner.DivScalar)
}

func (b *Backend[B]) scalarOp(kind ops.ScalarKind, x *tensor.RawTensor, scalar any,
	inner func(*tensor.RawTensor, any) *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	out := inner(x, scalar)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewScalarOp(kind, x, scalar, out))
	}
	return out
}

func (b *Backend[B]) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()
	out := b.inner.MatMul(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMatMulOp(x, y, out))
	}
	return out
}

func (b *Backend[B]) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	defer input.ForceNonUnique()()
	defer kernel.ForceNonUnique()()
	out := b.inner.Conv2D(input, kernel, stride, padding)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewConv2DOp(input, kernel, out, stride, padding))
	}
	return out
}

// Conv2DInputBackward is a gradient kernel, not a forward op; it passes
// straight through.
func (b *Backend[B]) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.inner.Conv2DInputBackward(input, kernel, grad, stride, padding)
}

func (b *Backend[B]) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.inner.Conv2DKernelBackward(input, kernel, grad, stride, padding)
}

func (b *Backend[B]) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	defer input.ForceNonUnique()()
	out := b.inner.MaxPool2D(input, kernelSize, stride)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMaxPool2DOp(input, out, kernelSize, stride))
	}
	return out
}

func (b *Backend[B]) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int, kernelSize, stride int) *tensor.RawTensor {
	return b.inner.MaxPool2DBackward(input, grad, maxIndices, kernelSize, stride)
}

func (b *Backend[B]) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	out := b.inner.Exp(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewExpOp(x, out))
	}
	return out
}

func (b *Backend[B]) Log(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	out := b.inner.Log(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewLogOp(x, out))
	}
	return out
}

func (b *Backend[B]) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	out := b.inner.Sqrt(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSqrtOp(x, out))
	}
	return out
}

func (b *Backend[B]) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	out := b.inner.ReLU(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewReLUOp(x, out))
	}
	return out
}

func (b *Backend[B]) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	out := b.inner.Softmax(x, dim)
	if b.tape.IsRecording() {
		if dim < 0 {
			dim += len(x.Shape())
		}
		b.tape.Record(ops.NewSoftmaxOp(x, out, dim))
	}
	return out
}

// CrossEntropy fuses softmax and negative log-likelihood into a single
// recorded node with the numerically clean combined gradient. Integer
// targets are not differentiated and need no pin.
func (b *Backend[B]) CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	defer logits.ForceNonUnique()()
	out := ops.CrossEntropyForward(logits, targets, b.Device())
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewCrossEntropyOp(logits, targets, out))
	}
	return out
}

// Comparisons, selection, and casts produce non-differentiable results and
// pass straight through.

func (b *Backend[B]) Greater(x, y *tensor.RawTensor) *tensor.RawTensor { return b.inner.Greater(x, y) }
func (b *Backend[B]) Equal(x, y *tensor.RawTensor) *tensor.RawTensor   { return b.inner.Equal(x, y) }

func (b *Backend[B]) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	out := b.inner.Sum(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSumOp(x, out))
	}
	return out
}

func (b *Backend[B]) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	out := b.inner.SumDim(x, dim, keepDim)
	if b.tape.IsRecording() {
		if dim < 0 {
			dim += len(x.Shape())
		}
		b.tape.Record(ops.NewSumDimOp(x, out, dim, keepDim))
	}
	return out
}

func (b *Backend[B]) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	out := b.inner.MeanDim(x, dim, keepDim)
	if b.tape.IsRecording() {
		if dim < 0 {
			dim += len(x.Shape())
		}
		b.tape.Record(ops.NewMeanDimOp(x, out, dim, keepDim))
	}
	return out
}

func (b *Backend[B]) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.inner.Argmax(x, dim)
}

func (b *Backend[B]) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	defer t.ForceNonUnique()()
	out := b.inner.Reshape(t, newShape)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewReshapeOp(t, out))
	}
	return out
}

func (b *Backend[B]) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	defer t.ForceNonUnique()()
	rank := len(t.Shape())
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	out := b.inner.Transpose(t, axes...)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewTransposeOp(t, out, axes))
	}
	return out
}

func (b *Backend[B]) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.inner.Cat(tensors, dim)
}

// Unsqueeze and Squeeze are reshapes and record as such.
func (b *Backend[B]) Unsqueeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	out := b.inner.Unsqueeze(x, dim)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewReshapeOp(x, out))
	}
	return out
}

func (b *Backend[B]) Squeeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	out := b.inner.Squeeze(x, dim)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewReshapeOp(x, out))
	}
	return out
}

func (b *Backend[B]) Where(cond, x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.Where(cond, x, y)
}

func (b *Backend[B]) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	return b.inner.Cast(x, dtype)
}

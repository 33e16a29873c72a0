package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

type binaryOp int

const (
	opAdd binaryOp = iota
	opSub
	opMul
	opDiv
)

func (op binaryOp) String() string {
	switch op {
	case opAdd:
		return "Add"
	case opSub:
		return "Sub"
	case opMul:
		return "Mul"
	case opDiv:
		return "Div"
	}
	return "unknown"
}

type number interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint8
}

func (c *Backend) Add(a, b *tensor.RawTensor) *tensor.RawTensor { return c.binary(opAdd, a, b) }
func (c *Backend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor { return c.binary(opSub, a, b) }
func (c *Backend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor { return c.binary(opMul, a, b) }
func (c *Backend) Div(a, b *tensor.RawTensor) *tensor.RawTensor { return c.binary(opDiv, a, b) }

// binary dispatches an elementwise operation. When the shapes already
// match, a uniquely-owned left operand is updated in place to avoid an
// allocation; otherwise the inputs are broadcast into a fresh tensor.
func (c *Backend) binary(op binaryOp, a, b *tensor.RawTensor) *tensor.RawTensor {
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("cpu: %s: dtype mismatch: %s vs %s", op, a.DType(), b.DType()))
	}
	outShape, _, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("cpu: %s: %v", op, err))
	}

	if a.Shape().Equal(b.Shape()) {
		if a.IsUnique() {
			switch a.DType() {
			case tensor.Float32:
				applyInplace(a.AsFloat32(), b.AsFloat32(), op)
			case tensor.Float64:
				applyInplace(a.AsFloat64(), b.AsFloat64(), op)
			case tensor.Int32:
				applyInplace(a.AsInt32(), b.AsInt32(), op)
			case tensor.Int64:
				applyInplace(a.AsInt64(), b.AsInt64(), op)
			case tensor.Uint8:
				applyInplace(a.AsUint8(), b.AsUint8(), op)
			default:
				panic(fmt.Sprintf("cpu: %s: unsupported dtype %s", op, a.DType()))
			}
			return a
		}
		out := c.newResult(outShape, a.DType())
		switch a.DType() {
		case tensor.Float32:
			applySame(out.AsFloat32(), a.AsFloat32(), b.AsFloat32(), op)
		case tensor.Float64:
			applySame(out.AsFloat64(), a.AsFloat64(), b.AsFloat64(), op)
		case tensor.Int32:
			applySame(out.AsInt32(), a.AsInt32(), b.AsInt32(), op)
		case tensor.Int64:
			applySame(out.AsInt64(), a.AsInt64(), b.AsInt64(), op)
		case tensor.Uint8:
			applySame(out.AsUint8(), a.AsUint8(), b.AsUint8(), op)
		default:
			panic(fmt.Sprintf("cpu: %s: unsupported dtype %s", op, a.DType()))
		}
		return out
	}

	out := c.newResult(outShape, a.DType())
	switch a.DType() {
	case tensor.Float32:
		applyBroadcast(out.AsFloat32(), a.AsFloat32(), b.AsFloat32(), a.Shape(), b.Shape(), outShape, op)
	case tensor.Float64:
		applyBroadcast(out.AsFloat64(), a.AsFloat64(), b.AsFloat64(), a.Shape(), b.Shape(), outShape, op)
	case tensor.Int32:
		applyBroadcast(out.AsInt32(), a.AsInt32(), b.AsInt32(), a.Shape(), b.Shape(), outShape, op)
	case tensor.Int64:
		applyBroadcast(out.AsInt64(), a.AsInt64(), b.AsInt64(), a.Shape(), b.Shape(), outShape, op)
	case tensor.Uint8:
		applyBroadcast(out.AsUint8(), a.AsUint8(), b.AsUint8(), a.Shape(), b.Shape(), outShape, op)
	default:
		panic(fmt.Sprintf("cpu: %s: unsupported dtype %s", op, a.DType()))
	}
	return out
}

func applyInplace[T number](a, b []T, op binaryOp) {
	switch op {
	case opAdd:
		for i := range a {
			a[i] += b[i]
		}
	case opSub:
		for i := range a {
			a[i] -= b[i]
		}
	case opMul:
		for i := range a {
			a[i] *= b[i]
		}
	case opDiv:
		for i := range a {
			a[i] /= b[i]
		}
	}
}

func applySame[T number](dst, a, b []T, op binaryOp) {
	switch op {
	case opAdd:
		for i := range dst {
			dst[i] = a[i] + b[i]
		}
	case opSub:
		for i := range dst {
			dst[i] = a[i] - b[i]
		}
	case opMul:
		for i := range dst {
			dst[i] = a[i] * b[i]
		}
	case opDiv:
		for i := range dst {
			dst[i] = a[i] / b[i]
		}
	}
}

func applyBroadcast[T number](dst, a, b []T, aShape, bShape, outShape tensor.Shape, op binaryOp) {
	aIdx := newBroadcastIndexer(aShape, outShape)
	bIdx := newBroadcastIndexer(bShape, outShape)
	switch op {
	case opAdd:
		for i := range dst {
			dst[i] = a[aIdx.at(i)] + b[bIdx.at(i)]
		}
	case opSub:
		for i := range dst {
			dst[i] = a[aIdx.at(i)] - b[bIdx.at(i)]
		}
	case opMul:
		for i := range dst {
			dst[i] = a[aIdx.at(i)] * b[bIdx.at(i)]
		}
	case opDiv:
		for i := range dst {
			dst[i] = a[aIdx.at(i)] / b[bIdx.at(i)]
		}
	}
}

package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

func (c *Backend) AddScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return c.scalarOp(opAdd, x, scalar)
}

func (c *Backend) SubScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return c.scalarOp(opSub, x, scalar)
}

func (c *Backend) MulScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return c.scalarOp(opMul, x, scalar)
}

func (c *Backend) DivScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return c.scalarOp(opDiv, x, scalar)
}

func (c *Backend) scalarOp(op binaryOp, x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	if x.IsUnique() {
		applyScalar(x, op, scalar)
		return x
	}
	out := c.newResult(x.Shape(), x.DType())
	copy(out.Data(), x.Data())
	applyScalar(out, op, scalar)
	return out
}

func applyScalar(x *tensor.RawTensor, op binaryOp, scalar any) {
	switch x.DType() {
	case tensor.Float32:
		applyScalarSlice(x.AsFloat32(), op, float32(scalarToFloat64(scalar)))
	case tensor.Float64:
		applyScalarSlice(x.AsFloat64(), op, scalarToFloat64(scalar))
	case tensor.Int32:
		applyScalarSlice(x.AsInt32(), op, int32(scalarToInt64(scalar)))
	case tensor.Int64:
		applyScalarSlice(x.AsInt64(), op, scalarToInt64(scalar))
	case tensor.Uint8:
		applyScalarSlice(x.AsUint8(), op, uint8(scalarToInt64(scalar)))
	default:
		panic(fmt.Sprintf("cpu: %sScalar: unsupported dtype %s", op, x.DType()))
	}
}

func applyScalarSlice[T number](data []T, op binaryOp, s T) {
	switch op {
	case opAdd:
		for i := range data {
			data[i] += s
		}
	case opSub:
		for i := range data {
			data[i] -= s
		}
	case opMul:
		for i := range data {
			data[i] *= s
		}
	case opDiv:
		for i := range data {
			data[i] /= s
		}
	}
}

func scalarToFloat64(scalar any) float64 {
	switch v := scalar.(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint8:
		return float64(v)
	default:
		panic(fmt.Sprintf("cpu: unsupported scalar type %T", scalar))
	}
}

func scalarToInt64(scalar any) int64 {
	switch v := scalar.(type) {
	case float32:
		return int64(v)
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint8:
		return int64(v)
	default:
		panic(fmt.Sprintf("cpu: unsupported scalar type %T", scalar))
	}
}

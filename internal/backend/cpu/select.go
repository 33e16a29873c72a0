package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Where picks from x where cond is true and from y elsewhere. All three
// tensors must share a shape; cond must be Bool.
func (c *Backend) Where(cond, x, y *tensor.RawTensor) *tensor.RawTensor {
	if cond.DType() != tensor.Bool {
		panic(fmt.Sprintf("cpu: Where: condition must be Bool, got %s", cond.DType()))
	}
	if !cond.Shape().Equal(x.Shape()) || !x.Shape().Equal(y.Shape()) {
		panic(fmt.Sprintf("cpu: Where: shapes %v, %v, %v must match", cond.Shape(), x.Shape(), y.Shape()))
	}
	if x.DType() != y.DType() {
		panic(fmt.Sprintf("cpu: Where: dtype mismatch: %s vs %s", x.DType(), y.DType()))
	}

	out := c.newResult(x.Shape(), x.DType())
	mask := cond.AsBool()
	switch x.DType() {
	case tensor.Float32:
		selectSlices(out.AsFloat32(), mask, x.AsFloat32(), y.AsFloat32())
	case tensor.Float64:
		selectSlices(out.AsFloat64(), mask, x.AsFloat64(), y.AsFloat64())
	case tensor.Int32:
		selectSlices(out.AsInt32(), mask, x.AsInt32(), y.AsInt32())
	case tensor.Int64:
		selectSlices(out.AsInt64(), mask, x.AsInt64(), y.AsInt64())
	case tensor.Uint8:
		selectSlices(out.AsUint8(), mask, x.AsUint8(), y.AsUint8())
	default:
		panic(fmt.Sprintf("cpu: Where: unsupported dtype %s", x.DType()))
	}
	return out
}

func selectSlices[T number](dst []T, mask []bool, x, y []T) {
	for i := range dst {
		if mask[i] {
			dst[i] = x[i]
		} else {
			dst[i] = y[i]
		}
	}
}

// Cast converts element types. Bool sources map to 0 and 1; Bool targets
// are true for any nonzero source value.
func (c *Backend) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	if x.DType() == dtype {
		return x.Clone()
	}
	out := c.newResult(x.Shape(), dtype)

	if x.DType() == tensor.Bool {
		src := x.AsBool()
		switch dtype {
		case tensor.Float32:
			castFromBool(out.AsFloat32(), src)
		case tensor.Float64:
			castFromBool(out.AsFloat64(), src)
		case tensor.Int32:
			castFromBool(out.AsInt32(), src)
		case tensor.Int64:
			castFromBool(out.AsInt64(), src)
		case tensor.Uint8:
			castFromBool(out.AsUint8(), src)
		default:
			panic(fmt.Sprintf("cpu: Cast: Bool to %s not supported", dtype))
		}
		return out
	}

	switch x.DType() {
	case tensor.Float32:
		castNumeric(out, x.AsFloat32())
	case tensor.Float64:
		castNumeric(out, x.AsFloat64())
	case tensor.Int32:
		castNumeric(out, x.AsInt32())
	case tensor.Int64:
		castNumeric(out, x.AsInt64())
	case tensor.Uint8:
		castNumeric(out, x.AsUint8())
	default:
		panic(fmt.Sprintf("cpu: Cast: unsupported source dtype %s", x.DType()))
	}
	return out
}

func castFromBool[T number](dst []T, src []bool) {
	for i, v := range src {
		if v {
			dst[i] = 1
		}
	}
}

func castNumeric[S number](out *tensor.RawTensor, src []S) {
	switch out.DType() {
	case tensor.Float32:
		dst := out.AsFloat32()
		for i, v := range src {
			dst[i] = float32(v)
		}
	case tensor.Float64:
		dst := out.AsFloat64()
		for i, v := range src {
			dst[i] = float64(v)
		}
	case tensor.Int32:
		dst := out.AsInt32()
		for i, v := range src {
			dst[i] = int32(v)
		}
	case tensor.Int64:
		dst := out.AsInt64()
		for i, v := range src {
			dst[i] = int64(v)
		}
	case tensor.Uint8:
		dst := out.AsUint8()
		for i, v := range src {
			dst[i] = uint8(v)
		}
	case tensor.Bool:
		dst := out.AsBool()
		for i, v := range src {
			dst[i] = v != 0
		}
	default:
		panic(fmt.Sprintf("cpu: Cast: unsupported target dtype %s", out.DType()))
	}
}

package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Greater compares element-wise and returns a Bool tensor.
func (c *Backend) Greater(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.compare("Greater", a, b, func(cmp int) bool { return cmp > 0 })
}

// Equal compares element-wise and returns a Bool tensor.
func (c *Backend) Equal(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.compare("Equal", a, b, func(cmp int) bool { return cmp == 0 })
}

func (c *Backend) compare(name string, a, b *tensor.RawTensor, keep func(int) bool) *tensor.RawTensor {
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("cpu: %s: dtype mismatch: %s vs %s", name, a.DType(), b.DType()))
	}
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("cpu: %s: shape mismatch: %v vs %v", name, a.Shape(), b.Shape()))
	}
	out := c.newResult(a.Shape(), tensor.Bool)
	dst := out.AsBool()
	switch a.DType() {
	case tensor.Float32:
		compareSlices(dst, a.AsFloat32(), b.AsFloat32(), keep)
	case tensor.Float64:
		compareSlices(dst, a.AsFloat64(), b.AsFloat64(), keep)
	case tensor.Int32:
		compareSlices(dst, a.AsInt32(), b.AsInt32(), keep)
	case tensor.Int64:
		compareSlices(dst, a.AsInt64(), b.AsInt64(), keep)
	case tensor.Uint8:
		compareSlices(dst, a.AsUint8(), b.AsUint8(), keep)
	default:
		panic(fmt.Sprintf("cpu: %s: unsupported dtype %s", name, a.DType()))
	}
	return out
}

func compareSlices[T number](dst []bool, a, b []T, keep func(int) bool) {
	for i := range a {
		cmp := 0
		switch {
		case a[i] > b[i]:
			cmp = 1
		case a[i] < b[i]:
			cmp = -1
		}
		dst[i] = keep(cmp)
	}
}

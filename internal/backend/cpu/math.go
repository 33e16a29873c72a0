package cpu

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/tensor"
)

func (c *Backend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unaryFloat("Exp", x, math.Exp)
}

func (c *Backend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unaryFloat("Log", x, math.Log)
}

func (c *Backend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unaryFloat("Sqrt", x, math.Sqrt)
}

func (c *Backend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unaryFloat("ReLU", x, func(v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	})
}

func (c *Backend) unaryFloat(name string, x *tensor.RawTensor, fn func(float64) float64) *tensor.RawTensor {
	out := x
	if !x.IsUnique() {
		out = c.newResult(x.Shape(), x.DType())
	}
	switch x.DType() {
	case tensor.Float32:
		src, dst := x.AsFloat32(), out.AsFloat32()
		for i := range src {
			dst[i] = float32(fn(float64(src[i])))
		}
	case tensor.Float64:
		src, dst := x.AsFloat64(), out.AsFloat64()
		for i := range src {
			dst[i] = fn(src[i])
		}
	default:
		panic(fmt.Sprintf("cpu: %s: unsupported dtype %s", name, x.DType()))
	}
	return out
}

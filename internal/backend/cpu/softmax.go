package cpu

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Softmax normalizes along dim with the usual max-shift for numerical
// stability. Any tensor factors as [outer, dim, inner] around the reduced
// axis, so one implementation covers every rank.
func (c *Backend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	dim = normalizeDim(dim, len(x.Shape()), "Softmax")
	outer, size, inner := factorShape(x.Shape(), dim)
	out := c.newResult(x.Shape(), x.DType())

	switch x.DType() {
	case tensor.Float32:
		softmaxLanes(out.AsFloat32(), x.AsFloat32(), outer, size, inner)
	case tensor.Float64:
		softmaxLanes(out.AsFloat64(), x.AsFloat64(), outer, size, inner)
	default:
		panic(fmt.Sprintf("cpu: Softmax: unsupported dtype %s", x.DType()))
	}
	return out
}

func softmaxLanes[T ~float32 | ~float64](dst, src []T, outer, size, inner int) {
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*size*inner + in

			maxVal := src[base]
			for k := 1; k < size; k++ {
				if v := src[base+k*inner]; v > maxVal {
					maxVal = v
				}
			}

			var sum T
			for k := 0; k < size; k++ {
				e := T(math.Exp(float64(src[base+k*inner] - maxVal)))
				dst[base+k*inner] = e
				sum += e
			}

			for k := 0; k < size; k++ {
				dst[base+k*inner] /= sum
			}
		}
	}
}

// factorShape splits a shape into the element counts before, at, and after
// the given dimension.
func factorShape(shape tensor.Shape, dim int) (outer, size, inner int) {
	outer, inner = 1, 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	for d := dim + 1; d < len(shape); d++ {
		inner *= shape[d]
	}
	return outer, shape[dim], inner
}

func normalizeDim(dim, rank int, opName string) int {
	if dim < 0 {
		dim += rank
	}
	if dim < 0 || dim >= rank {
		panic(fmt.Sprintf("cpu: %s: dim %d out of range for rank %d", opName, dim, rank))
	}
	return dim
}

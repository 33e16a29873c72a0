package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Sum reduces the whole tensor to a single-element tensor of the same dtype.
func (c *Backend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	out := c.newResult(tensor.Shape{1}, x.DType())
	switch x.DType() {
	case tensor.Float32:
		out.AsFloat32()[0] = sumSlice(x.AsFloat32())
	case tensor.Float64:
		out.AsFloat64()[0] = sumSlice(x.AsFloat64())
	case tensor.Int32:
		out.AsInt32()[0] = sumSlice(x.AsInt32())
	case tensor.Int64:
		out.AsInt64()[0] = sumSlice(x.AsInt64())
	default:
		panic(fmt.Sprintf("cpu: Sum: unsupported dtype %s", x.DType()))
	}
	return out
}

func sumSlice[T number](data []T) T {
	var sum T
	for _, v := range data {
		sum += v
	}
	return sum
}

// SumDim reduces one dimension. With keepDim the reduced axis stays as
// size 1, otherwise it is dropped from the result shape.
func (c *Backend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	dim = normalizeDim(dim, len(x.Shape()), "SumDim")
	outer, size, inner := factorShape(x.Shape(), dim)
	out := c.newResult(reducedShape(x.Shape(), dim, keepDim), x.DType())

	switch x.DType() {
	case tensor.Float32:
		sumLanes(out.AsFloat32(), x.AsFloat32(), outer, size, inner)
	case tensor.Float64:
		sumLanes(out.AsFloat64(), x.AsFloat64(), outer, size, inner)
	case tensor.Int32:
		sumLanes(out.AsInt32(), x.AsInt32(), outer, size, inner)
	case tensor.Int64:
		sumLanes(out.AsInt64(), x.AsInt64(), outer, size, inner)
	default:
		panic(fmt.Sprintf("cpu: SumDim: unsupported dtype %s", x.DType()))
	}
	return out
}

// MeanDim is SumDim scaled by the reduced dimension length.
func (c *Backend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	norm := normalizeDim(dim, len(x.Shape()), "MeanDim")
	size := x.Shape()[norm]
	out := c.SumDim(x, norm, keepDim)
	switch out.DType() {
	case tensor.Float32:
		scaleSlice(out.AsFloat32(), 1/float32(size))
	case tensor.Float64:
		scaleSlice(out.AsFloat64(), 1/float64(size))
	default:
		panic(fmt.Sprintf("cpu: MeanDim: unsupported dtype %s", x.DType()))
	}
	return out
}

func sumLanes[T number](dst, src []T, outer, size, inner int) {
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*size*inner + in
			var sum T
			for k := 0; k < size; k++ {
				sum += src[base+k*inner]
			}
			dst[o*inner+in] = sum
		}
	}
}

func scaleSlice[T ~float32 | ~float64](data []T, s T) {
	for i := range data {
		data[i] *= s
	}
}

// Argmax returns the Int32 index of the largest value along dim. The
// reduced axis is dropped; ties resolve to the lowest index.
func (c *Backend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	dim = normalizeDim(dim, len(x.Shape()), "Argmax")
	outer, size, inner := factorShape(x.Shape(), dim)
	out := c.newResult(reducedShape(x.Shape(), dim, false), tensor.Int32)

	switch x.DType() {
	case tensor.Float32:
		argmaxLanes(out.AsInt32(), x.AsFloat32(), outer, size, inner)
	case tensor.Float64:
		argmaxLanes(out.AsInt32(), x.AsFloat64(), outer, size, inner)
	case tensor.Int32:
		argmaxLanes(out.AsInt32(), x.AsInt32(), outer, size, inner)
	case tensor.Int64:
		argmaxLanes(out.AsInt32(), x.AsInt64(), outer, size, inner)
	default:
		panic(fmt.Sprintf("cpu: Argmax: unsupported dtype %s", x.DType()))
	}
	return out
}

func argmaxLanes[T number](dst []int32, src []T, outer, size, inner int) {
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*size*inner + in
			best := src[base]
			bestIdx := int32(0)
			for k := 1; k < size; k++ {
				if v := src[base+k*inner]; v > best {
					best = v
					bestIdx = int32(k)
				}
			}
			dst[o*inner+in] = bestIdx
		}
	}
}

func reducedShape(shape tensor.Shape, dim int, keepDim bool) tensor.Shape {
	if keepDim {
		out := shape.Clone()
		out[dim] = 1
		return out
	}
	out := make(tensor.Shape, 0, len(shape)-1)
	for d, s := range shape {
		if d != dim {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = tensor.Shape{1}
	}
	return out
}

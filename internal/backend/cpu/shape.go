package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Reshape copies the data into a tensor with the new shape. Element count
// must be preserved.
func (c *Backend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("cpu: Reshape: cannot reshape %v (%d elements) to %v (%d elements)",
			t.Shape(), t.NumElements(), newShape, newShape.NumElements()))
	}
	out := c.newResult(newShape, t.DType())
	copy(out.Data(), t.Data())
	return out
}

// Transpose permutes dimensions. With no axes it reverses them, matching
// the usual matrix transpose for 2D.
func (c *Backend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	rank := len(t.Shape())
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	if len(axes) != rank {
		panic(fmt.Sprintf("cpu: Transpose: %d axes for rank-%d tensor", len(axes), rank))
	}
	seen := make([]bool, rank)
	for _, a := range axes {
		if a < 0 || a >= rank || seen[a] {
			panic(fmt.Sprintf("cpu: Transpose: invalid axes %v for rank %d", axes, rank))
		}
		seen[a] = true
	}

	oldShape := t.Shape()
	newShape := make(tensor.Shape, rank)
	for i, a := range axes {
		newShape[i] = oldShape[a]
	}
	out := c.newResult(newShape, t.DType())

	oldStrides := oldShape.ComputeStrides()
	permStrides := make([]int, rank)
	for i, a := range axes {
		permStrides[i] = oldStrides[a]
	}

	elemSize := t.DType().Size()
	src, dst := t.Data(), out.Data()
	n := t.NumElements()
	coords := make([]int, rank)
	for i := 0; i < n; i++ {
		srcIdx := 0
		for d := range coords {
			srcIdx += coords[d] * permStrides[d]
		}
		copy(dst[i*elemSize:(i+1)*elemSize], src[srcIdx*elemSize:(srcIdx+1)*elemSize])
		for d := rank - 1; d >= 0; d-- {
			coords[d]++
			if coords[d] < newShape[d] {
				break
			}
			coords[d] = 0
		}
	}
	return out
}

// Cat concatenates tensors along dim. All inputs must agree on dtype and
// on every dimension except dim.
func (c *Backend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cpu: Cat: no tensors")
	}
	first := tensors[0]
	dim = normalizeDim(dim, len(first.Shape()), "Cat")

	outShape := first.Shape().Clone()
	for _, t := range tensors[1:] {
		if t.DType() != first.DType() {
			panic(fmt.Sprintf("cpu: Cat: dtype mismatch: %s vs %s", first.DType(), t.DType()))
		}
		if len(t.Shape()) != len(first.Shape()) {
			panic(fmt.Sprintf("cpu: Cat: rank mismatch: %v vs %v", first.Shape(), t.Shape()))
		}
		for d, s := range t.Shape() {
			if d == dim {
				continue
			}
			if s != first.Shape()[d] {
				panic(fmt.Sprintf("cpu: Cat: shapes %v and %v differ outside dim %d", first.Shape(), t.Shape(), dim))
			}
		}
		outShape[dim] += t.Shape()[dim]
	}

	out := c.newResult(outShape, first.DType())
	elemSize := first.DType().Size()
	outer, _, inner := factorShape(outShape, dim)
	rowBytes := inner * elemSize

	dst := out.Data()
	dimOffset := 0
	for _, t := range tensors {
		src := t.Data()
		size := t.Shape()[dim]
		for o := 0; o < outer; o++ {
			srcOff := o * size * rowBytes
			dstOff := (o*outShape[dim] + dimOffset) * rowBytes
			copy(dst[dstOff:dstOff+size*rowBytes], src[srcOff:srcOff+size*rowBytes])
		}
		dimOffset += size
	}
	return out
}

// Unsqueeze inserts a size-1 dimension at dim.
func (c *Backend) Unsqueeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	rank := len(x.Shape())
	if dim < 0 {
		dim += rank + 1
	}
	if dim < 0 || dim > rank {
		panic(fmt.Sprintf("cpu: Unsqueeze: dim %d out of range for rank %d", dim, rank))
	}
	newShape := make(tensor.Shape, 0, rank+1)
	newShape = append(newShape, x.Shape()[:dim]...)
	newShape = append(newShape, 1)
	newShape = append(newShape, x.Shape()[dim:]...)
	return c.Reshape(x, newShape)
}

// Squeeze removes a size-1 dimension at dim.
func (c *Backend) Squeeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	dim = normalizeDim(dim, len(x.Shape()), "Squeeze")
	if x.Shape()[dim] != 1 {
		panic(fmt.Sprintf("cpu: Squeeze: dim %d of %v is not 1", dim, x.Shape()))
	}
	newShape := make(tensor.Shape, 0, len(x.Shape())-1)
	newShape = append(newShape, x.Shape()[:dim]...)
	newShape = append(newShape, x.Shape()[dim+1:]...)
	if len(newShape) == 0 {
		newShape = tensor.Shape{1}
	}
	return c.Reshape(x, newShape)
}

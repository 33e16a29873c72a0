package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/parallel"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// MaxPool2D takes the maximum over kernelSize x kernelSize windows of an
// NCHW input.
func (c *Backend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	n, ch, h, w := convDims(input, "MaxPool2D input")
	if stride < 1 {
		panic(fmt.Sprintf("cpu: MaxPool2D: stride must be positive, got %d", stride))
	}
	hOut := (h-kernelSize)/stride + 1
	wOut := (w-kernelSize)/stride + 1
	if hOut < 1 || wOut < 1 {
		panic(fmt.Sprintf("cpu: MaxPool2D: window %d does not fit input %dx%d", kernelSize, h, w))
	}

	out := c.newResult(tensor.Shape{n, ch, hOut, wOut}, input.DType())
	switch input.DType() {
	case tensor.Float32:
		maxPool2DForward(c.pool, out.AsFloat32(), input.AsFloat32(), n, ch, h, w, hOut, wOut, kernelSize, stride)
	case tensor.Float64:
		maxPool2DForward(c.pool, out.AsFloat64(), input.AsFloat64(), n, ch, h, w, hOut, wOut, kernelSize, stride)
	default:
		panic(fmt.Sprintf("cpu: MaxPool2D: unsupported dtype %s", input.DType()))
	}
	return out
}

func maxPool2DForward[T ~float32 | ~float64](pool parallel.Config, dst, in []T,
	n, ch, h, w, hOut, wOut, kernelSize, stride int) {
	parallel.ForBatch(n, ch, func(b, c int) {
		inBase := (b*ch + c) * h * w
		outBase := (b*ch + c) * hOut * wOut
		for ho := 0; ho < hOut; ho++ {
			for wo := 0; wo < wOut; wo++ {
				maxVal := in[inBase+(ho*stride)*w+wo*stride]
				for y := 0; y < kernelSize; y++ {
					rowBase := inBase + (ho*stride+y)*w
					for x := 0; x < kernelSize; x++ {
						if v := in[rowBase+wo*stride+x]; v > maxVal {
							maxVal = v
						}
					}
				}
				dst[outBase+ho*wOut+wo] = maxVal
			}
		}
	}, pool)
}

// MaxPool2DBackward routes each output gradient back to the input element
// that produced it. maxIndices holds the flat input index per output
// element, recorded during the forward pass.
func (c *Backend) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int, kernelSize, stride int) *tensor.RawTensor {
	out := c.newResult(input.Shape(), input.DType())
	if grad.NumElements() != len(maxIndices) {
		panic(fmt.Sprintf("cpu: MaxPool2DBackward: %d gradients but %d recorded indices", grad.NumElements(), len(maxIndices)))
	}
	switch input.DType() {
	case tensor.Float32:
		dst, g := out.AsFloat32(), grad.AsFloat32()
		for i, idx := range maxIndices {
			dst[idx] += g[i]
		}
	case tensor.Float64:
		dst, g := out.AsFloat64(), grad.AsFloat64()
		for i, idx := range maxIndices {
			dst[idx] += g[i]
		}
	default:
		panic(fmt.Sprintf("cpu: MaxPool2DBackward: unsupported dtype %s", input.DType()))
	}
	return out
}

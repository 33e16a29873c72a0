package ops

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// MaxPool2DOp: output = MaxPool2D(input, kernelSize, stride).
//
// The winning position of every window is recorded at construction time,
// while the forward values are still at hand; the backward pass routes each
// output gradient to exactly that position.
type MaxPool2DOp struct {
	input      *tensor.RawTensor
	output     *tensor.RawTensor
	kernelSize int
	stride     int
	maxIndices []int
}

func NewMaxPool2DOp(input, output *tensor.RawTensor, kernelSize, stride int) *MaxPool2DOp {
	op := &MaxPool2DOp{
		input:      input,
		output:     output,
		kernelSize: kernelSize,
		stride:     stride,
	}
	op.maxIndices = computeMaxIndices(input, output.Shape(), kernelSize, stride)
	return op
}

func (op *MaxPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad := backend.MaxPool2DBackward(op.input, outputGrad, op.maxIndices, op.kernelSize, op.stride)
	return []*tensor.RawTensor{grad}
}

func (op *MaxPool2DOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *MaxPool2DOp) Output() *tensor.RawTensor   { return op.output }

func computeMaxIndices(input *tensor.RawTensor, outShape tensor.Shape, kernelSize, stride int) []int {
	s := input.Shape()
	n, ch, h, w := s[0], s[1], s[2], s[3]
	hOut, wOut := outShape[2], outShape[3]

	indices := make([]int, outShape.NumElements())

	switch input.DType() {
	case tensor.Float32:
		fillMaxIndices(indices, input.AsFloat32(), n, ch, h, w, hOut, wOut, kernelSize, stride)
	case tensor.Float64:
		fillMaxIndices(indices, input.AsFloat64(), n, ch, h, w, hOut, wOut, kernelSize, stride)
	default:
		panic(fmt.Sprintf("MaxPool2DOp: unsupported dtype %s", input.DType()))
	}
	return indices
}

func fillMaxIndices[T ~float32 | ~float64](indices []int, in []T, n, ch, h, w, hOut, wOut, kernelSize, stride int) {
	pos := 0
	for b := 0; b < n; b++ {
		for c := 0; c < ch; c++ {
			base := (b*ch + c) * h * w
			for ho := 0; ho < hOut; ho++ {
				for wo := 0; wo < wOut; wo++ {
					bestIdx := base + (ho*stride)*w + wo*stride
					bestVal := in[bestIdx]
					for y := 0; y < kernelSize; y++ {
						for x := 0; x < kernelSize; x++ {
							idx := base + (ho*stride+y)*w + (wo*stride + x)
							if in[idx] > bestVal {
								bestVal = in[idx]
								bestIdx = idx
							}
						}
					}
					indices[pos] = bestIdx
					pos++
				}
			}
		}
	}
}

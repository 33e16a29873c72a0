package ops

import "github.com/kiln-ml/kiln/internal/tensor"

// reduceBroadcast sums a gradient back down to the shape of a forward
// input that was broadcast. Alignment follows NumPy rules: shapes match
// from the right, missing or size-1 input dimensions were repeated in the
// forward pass and therefore accumulate in the backward pass.
func reduceBroadcast(grad *tensor.RawTensor, target tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(target) {
		// Clone so gradient accumulation cannot write into a tensor the
		// caller still holds.
		return grad.Clone()
	}

	result := grad
	for len(result.Shape()) > len(target) {
		result = backend.SumDim(result, 0, false)
	}
	for d, size := range target {
		if size == 1 && result.Shape()[d] > 1 {
			result = backend.SumDim(result, d, true)
		}
	}
	if !result.Shape().Equal(target) {
		result = backend.Reshape(result, target)
	}
	return result
}

// negate returns -grad without touching the input buffer.
func negate(grad *tensor.RawTensor, backend tensor.Backend) *tensor.RawTensor {
	return backend.MulScalar(grad.Clone(), -1)
}

//go:build windows

package webgpu

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// The remaining Backend methods have no WGSL kernel and run on the
// embedded CPU backend.

func (b *Backend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.host.Conv2D(input, kernel, stride, padding)
}

func (b *Backend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.host.Conv2DInputBackward(input, kernel, grad, stride, padding)
}

func (b *Backend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.host.Conv2DKernelBackward(input, kernel, grad, stride, padding)
}

func (b *Backend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	return b.host.MaxPool2D(input, kernelSize, stride)
}

func (b *Backend) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int, kernelSize, stride int) *tensor.RawTensor {
	return b.host.MaxPool2DBackward(input, grad, maxIndices, kernelSize, stride)
}

func (b *Backend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.host.Softmax(x, dim)
}

func (b *Backend) Greater(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.host.Greater(x, y)
}

func (b *Backend) Equal(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.host.Equal(x, y)
}

func (b *Backend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	return b.host.Sum(x)
}

func (b *Backend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return b.host.SumDim(x, dim, keepDim)
}

func (b *Backend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return b.host.MeanDim(x, dim, keepDim)
}

func (b *Backend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.host.Argmax(x, dim)
}

func (b *Backend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	return b.host.Reshape(t, newShape)
}

func (b *Backend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	return b.host.Transpose(t, axes...)
}

func (b *Backend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.host.Cat(tensors, dim)
}

func (b *Backend) Unsqueeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.host.Unsqueeze(x, dim)
}

func (b *Backend) Squeeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.host.Squeeze(x, dim)
}

func (b *Backend) Where(cond, x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.host.Where(cond, x, y)
}

func (b *Backend) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	return b.host.Cast(x, dtype)
}

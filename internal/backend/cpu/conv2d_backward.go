package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/parallel"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Conv2DInputBackward computes the gradient of a convolution with respect
// to its input. The loop gathers from the output gradient per input pixel
// instead of scattering, which keeps parallel (sample, channel) units free
// of write conflicts.
func (c *Backend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	n, cin, h, w := convDims(input, "Conv2DInputBackward input")
	cout, _, kh, kw := convDims(kernel, "Conv2DInputBackward kernel")
	_, _, hOut, wOut := convDims(grad, "Conv2DInputBackward grad")

	out := c.newResult(input.Shape(), input.DType())
	switch input.DType() {
	case tensor.Float32:
		conv2dInputBackward(c.pool, out.AsFloat32(), kernel.AsFloat32(), grad.AsFloat32(),
			n, cin, h, w, cout, kh, kw, hOut, wOut, stride, padding)
	case tensor.Float64:
		conv2dInputBackward(c.pool, out.AsFloat64(), kernel.AsFloat64(), grad.AsFloat64(),
			n, cin, h, w, cout, kh, kw, hOut, wOut, stride, padding)
	default:
		panic(fmt.Sprintf("cpu: Conv2DInputBackward: unsupported dtype %s", input.DType()))
	}
	return out
}

func conv2dInputBackward[T ~float32 | ~float64](pool parallel.Config, dst, k, grad []T,
	n, cin, h, w, cout, kh, kw, hOut, wOut, stride, padding int) {
	parallel.ForBatch(n, cin, func(b, ci int) {
		dstBase := (b*cin + ci) * h * w
		for hi := 0; hi < h; hi++ {
			for wi := 0; wi < w; wi++ {
				var sum T
				for y := 0; y < kh; y++ {
					hg := hi + padding - y
					if hg < 0 || hg%stride != 0 {
						continue
					}
					ho := hg / stride
					if ho >= hOut {
						continue
					}
					for x := 0; x < kw; x++ {
						wg := wi + padding - x
						if wg < 0 || wg%stride != 0 {
							continue
						}
						wo := wg / stride
						if wo >= wOut {
							continue
						}
						for co := 0; co < cout; co++ {
							gIdx := ((b*cout+co)*hOut+ho)*wOut + wo
							kIdx := ((co*cin+ci)*kh+y)*kw + x
							sum += grad[gIdx] * k[kIdx]
						}
					}
				}
				dst[dstBase+hi*w+wi] = sum
			}
		}
	}, pool)
}

// Conv2DKernelBackward computes the gradient of a convolution with respect
// to its kernel, accumulated across the batch.
func (c *Backend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	n, cin, h, w := convDims(input, "Conv2DKernelBackward input")
	cout, _, kh, kw := convDims(kernel, "Conv2DKernelBackward kernel")
	_, _, hOut, wOut := convDims(grad, "Conv2DKernelBackward grad")

	out := c.newResult(kernel.Shape(), kernel.DType())
	switch input.DType() {
	case tensor.Float32:
		conv2dKernelBackward(c.pool, out.AsFloat32(), input.AsFloat32(), grad.AsFloat32(),
			n, cin, h, w, cout, kh, kw, hOut, wOut, stride, padding)
	case tensor.Float64:
		conv2dKernelBackward(c.pool, out.AsFloat64(), input.AsFloat64(), grad.AsFloat64(),
			n, cin, h, w, cout, kh, kw, hOut, wOut, stride, padding)
	default:
		panic(fmt.Sprintf("cpu: Conv2DKernelBackward: unsupported dtype %s", input.DType()))
	}
	return out
}

func conv2dKernelBackward[T ~float32 | ~float64](pool parallel.Config, dst, in, grad []T,
	n, cin, h, w, cout, kh, kw, hOut, wOut, stride, padding int) {
	parallel.ForBatch(cout, cin, func(co, ci int) {
		for y := 0; y < kh; y++ {
			for x := 0; x < kw; x++ {
				var sum T
				for b := 0; b < n; b++ {
					inBase := (b*cin + ci) * h * w
					gBase := (b*cout + co) * hOut * wOut
					for ho := 0; ho < hOut; ho++ {
						hi := ho*stride - padding + y
						if hi < 0 || hi >= h {
							continue
						}
						for wo := 0; wo < wOut; wo++ {
							wi := wo*stride - padding + x
							if wi < 0 || wi >= w {
								continue
							}
							sum += grad[gBase+ho*wOut+wo] * in[inBase+hi*w+wi]
						}
					}
				}
				dst[((co*cin+ci)*kh+y)*kw+x] = sum
			}
		}
	}, pool)
}

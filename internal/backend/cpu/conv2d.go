package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/parallel"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Conv2D applies a 2D cross-correlation over an NCHW input with an
// OIHW kernel. Each (sample, output channel) pair is an independent
// unit of work for the pool.
func (c *Backend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	n, cin, h, w := convDims(input, "Conv2D input")
	cout, kcin, kh, kw := convDims(kernel, "Conv2D kernel")
	if cin != kcin {
		panic(fmt.Sprintf("cpu: Conv2D: input channels %d do not match kernel channels %d", cin, kcin))
	}
	if stride < 1 {
		panic(fmt.Sprintf("cpu: Conv2D: stride must be positive, got %d", stride))
	}
	hOut := (h+2*padding-kh)/stride + 1
	wOut := (w+2*padding-kw)/stride + 1
	if hOut < 1 || wOut < 1 {
		panic(fmt.Sprintf("cpu: Conv2D: kernel %dx%d does not fit input %dx%d with padding %d", kh, kw, h, w, padding))
	}

	out := c.newResult(tensor.Shape{n, cout, hOut, wOut}, input.DType())
	switch input.DType() {
	case tensor.Float32:
		conv2dForward(c.pool, out.AsFloat32(), input.AsFloat32(), kernel.AsFloat32(),
			n, cin, h, w, cout, kh, kw, hOut, wOut, stride, padding)
	case tensor.Float64:
		conv2dForward(c.pool, out.AsFloat64(), input.AsFloat64(), kernel.AsFloat64(),
			n, cin, h, w, cout, kh, kw, hOut, wOut, stride, padding)
	default:
		panic(fmt.Sprintf("cpu: Conv2D: unsupported dtype %s", input.DType()))
	}
	return out
}

func conv2dForward[T ~float32 | ~float64](pool parallel.Config, dst, in, k []T,
	n, cin, h, w, cout, kh, kw, hOut, wOut, stride, padding int) {
	parallel.ForBatch(n, cout, func(b, co int) {
		outBase := (b*cout + co) * hOut * wOut
		for ho := 0; ho < hOut; ho++ {
			for wo := 0; wo < wOut; wo++ {
				var sum T
				for ci := 0; ci < cin; ci++ {
					inBase := (b*cin + ci) * h * w
					kBase := ((co*cin + ci) * kh) * kw
					for y := 0; y < kh; y++ {
						hi := ho*stride - padding + y
						if hi < 0 || hi >= h {
							continue
						}
						for x := 0; x < kw; x++ {
							wi := wo*stride - padding + x
							if wi < 0 || wi >= w {
								continue
							}
							sum += in[inBase+hi*w+wi] * k[kBase+y*kw+x]
						}
					}
				}
				dst[outBase+ho*wOut+wo] = sum
			}
		}
	}, pool)
}

func convDims(t *tensor.RawTensor, what string) (int, int, int, int) {
	s := t.Shape()
	if len(s) != 4 {
		panic(fmt.Sprintf("cpu: %s must be 4D, got %v", what, s))
	}
	return s[0], s[1], s[2], s[3]
}

package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/parallel"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// MatMul multiplies two matrices [M, K] x [K, N] into [M, N]. Rows are
// distributed across the worker pool and the inner loop is ordered i-k-j
// so both operands stream sequentially through cache.
func (c *Backend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	if len(a.Shape()) != 2 || len(b.Shape()) != 2 {
		panic(fmt.Sprintf("cpu: MatMul: expected 2D tensors, got %v x %v", a.Shape(), b.Shape()))
	}
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("cpu: MatMul: dtype mismatch: %s vs %s", a.DType(), b.DType()))
	}
	m, k := a.Shape()[0], a.Shape()[1]
	k2, n := b.Shape()[0], b.Shape()[1]
	if k != k2 {
		panic(fmt.Sprintf("cpu: MatMul: inner dimensions disagree: %v x %v", a.Shape(), b.Shape()))
	}

	out := c.newResult(tensor.Shape{m, n}, a.DType())
	switch a.DType() {
	case tensor.Float32:
		matmulRows(c.pool, out.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n)
	case tensor.Float64:
		matmulRows(c.pool, out.AsFloat64(), a.AsFloat64(), b.AsFloat64(), m, k, n)
	default:
		panic(fmt.Sprintf("cpu: MatMul: unsupported dtype %s", a.DType()))
	}
	return out
}

func matmulRows[T ~float32 | ~float64](pool parallel.Config, dst, a, b []T, m, k, n int) {
	parallel.For(m, func(i int) {
		row := dst[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for kk := 0; kk < k; kk++ {
			av := a[i*k+kk]
			if av == 0 {
				continue
			}
			bRow := b[kk*n : (kk+1)*n]
			for j, bv := range bRow {
				row[j] += av * bv
			}
		}
	}, pool)
}

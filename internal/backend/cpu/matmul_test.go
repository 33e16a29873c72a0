package cpu

import (
	"math/rand"
	"testing"

	"github.com/kiln-ml/kiln/internal/tensor"
)

func TestMatMul(t *testing.T) {
	b := New()
	// [2,3] x [3,2]
	a := rawFloat32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	c := rawFloat32(t, tensor.Shape{3, 2}, []float32{7, 8, 9, 10, 11, 12})

	got := b.MatMul(a, c)
	if !got.Shape().Equal(tensor.Shape{2, 2}) {
		t.Fatalf("shape = %v, want [2 2]", got.Shape())
	}
	// [1*7+2*9+3*11, 1*8+2*10+3*12; 4*7+5*9+6*11, 4*8+5*10+6*12]
	want := []float32{58, 64, 139, 154}
	if !float32Near(got.AsFloat32(), want) {
		t.Errorf("MatMul = %v, want %v", got.AsFloat32(), want)
	}
}

func TestMatMulIdentity(t *testing.T) {
	b := New()
	a := rawFloat32(t, tensor.Shape{2, 2}, []float32{1, 2, 3, 4})
	eye := rawFloat32(t, tensor.Shape{2, 2}, []float32{1, 0, 0, 1})

	got := b.MatMul(a, eye)
	if !float32Near(got.AsFloat32(), []float32{1, 2, 3, 4}) {
		t.Errorf("A @ I = %v, want A", got.AsFloat32())
	}
}

func TestMatMulShapeMismatchPanics(t *testing.T) {
	b := New()
	a := rawFloat32(t, tensor.Shape{2, 3}, make([]float32, 6))
	c := rawFloat32(t, tensor.Shape{2, 2}, make([]float32, 4))

	defer func() {
		if recover() == nil {
			t.Error("expected panic on inner dimension mismatch")
		}
	}()
	b.MatMul(a, c)
}

// Large enough to cross the parallel threshold; checked against a naive
// sequential product.
func TestMatMulParallelMatchesNaive(t *testing.T) {
	b := New()
	const m, k, n = 67, 43, 29
	rng := rand.New(rand.NewSource(7))

	a := rawFloat32(t, tensor.Shape{m, k}, nil)
	c := rawFloat32(t, tensor.Shape{k, n}, nil)
	for i := range a.AsFloat32() {
		a.AsFloat32()[i] = rng.Float32() - 0.5
	}
	for i := range c.AsFloat32() {
		c.AsFloat32()[i] = rng.Float32() - 0.5
	}

	got := b.MatMul(a, c)

	want := make([]float32, m*n)
	av, cv := a.AsFloat32(), c.AsFloat32()
	for i := 0; i < m; i++ {
		for kk := 0; kk < k; kk++ {
			for j := 0; j < n; j++ {
				want[i*n+j] += av[i*k+kk] * cv[kk*n+j]
			}
		}
	}
	if !float32Near(got.AsFloat32(), want) {
		t.Error("parallel MatMul disagrees with naive product")
	}
}

package cpu

import (
	"testing"

	"github.com/kiln-ml/kiln/internal/tensor"
)

func TestSum(t *testing.T) {
	b := New()
	x := rawFloat32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	got := b.Sum(x)
	if !got.Shape().Equal(tensor.Shape{1}) {
		t.Fatalf("shape = %v, want [1]", got.Shape())
	}
	if got.AsFloat32()[0] != 21 {
		t.Errorf("Sum = %v, want 21", got.AsFloat32()[0])
	}
}

func TestSumDim(t *testing.T) {
	b := New()
	x := rawFloat32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	t.Run("Dim0", func(t *testing.T) {
		got := b.SumDim(x, 0, false)
		if !got.Shape().Equal(tensor.Shape{3}) {
			t.Fatalf("shape = %v, want [3]", got.Shape())
		}
		if !float32Near(got.AsFloat32(), []float32{5, 7, 9}) {
			t.Errorf("SumDim(0) = %v, want [5 7 9]", got.AsFloat32())
		}
	})

	t.Run("Dim1KeepDim", func(t *testing.T) {
		got := b.SumDim(x, 1, true)
		if !got.Shape().Equal(tensor.Shape{2, 1}) {
			t.Fatalf("shape = %v, want [2 1]", got.Shape())
		}
		if !float32Near(got.AsFloat32(), []float32{6, 15}) {
			t.Errorf("SumDim(1, keep) = %v, want [6 15]", got.AsFloat32())
		}
	})
}

func TestMeanDim(t *testing.T) {
	b := New()
	x := rawFloat32(t, tensor.Shape{2, 2}, []float32{1, 3, 5, 7})
	got := b.MeanDim(x, 1, false)
	if !float32Near(got.AsFloat32(), []float32{2, 6}) {
		t.Errorf("MeanDim = %v, want [2 6]", got.AsFloat32())
	}
}

func TestArgmax(t *testing.T) {
	b := New()
	x := rawFloat32(t, tensor.Shape{2, 3}, []float32{
		1, 5, 3,
		9, 2, 4,
	})

	got := b.Argmax(x, 1)
	if got.DType() != tensor.Int32 {
		t.Fatalf("dtype = %v, want Int32", got.DType())
	}
	if !got.Shape().Equal(tensor.Shape{2}) {
		t.Fatalf("shape = %v, want [2]", got.Shape())
	}
	idx := got.AsInt32()
	if idx[0] != 1 || idx[1] != 0 {
		t.Errorf("Argmax = %v, want [1 0]", idx)
	}
}

func TestArgmaxNegativeDim(t *testing.T) {
	b := New()
	x := rawFloat32(t, tensor.Shape{1, 4}, []float32{0.1, 0.7, 0.05, 0.15})
	got := b.Argmax(x, -1)
	if got.AsInt32()[0] != 1 {
		t.Errorf("Argmax(dim=-1) = %v, want 1", got.AsInt32()[0])
	}
}

func TestArgmaxTieTakesFirst(t *testing.T) {
	b := New()
	x := rawFloat32(t, tensor.Shape{1, 3}, []float32{2, 2, 2})
	got := b.Argmax(x, 1)
	if got.AsInt32()[0] != 0 {
		t.Errorf("tie should resolve to index 0, got %v", got.AsInt32()[0])
	}
}

package cpu

import (
	"testing"

	"github.com/kiln-ml/kiln/internal/tensor"
)

func rawFloat32(t *testing.T, shape tensor.Shape, data []float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw(%v): %v", shape, err)
	}
	copy(r.AsFloat32(), data)
	return r
}

func rawInt32(t *testing.T, shape tensor.Shape, data []int32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Int32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw(%v): %v", shape, err)
	}
	copy(r.AsInt32(), data)
	return r
}

func float32Near(a, b []float32) bool {
	const epsilon = 1e-5
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		diff := a[i] - b[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > epsilon {
			return false
		}
	}
	return true
}

func TestNew(t *testing.T) {
	b := New()
	if b.Name() != "CPU" {
		t.Errorf("Name() = %q, want %q", b.Name(), "CPU")
	}
	if b.Device() != tensor.CPU {
		t.Errorf("Device() = %v, want CPU", b.Device())
	}
}

func TestAddSameShape(t *testing.T) {
	b := New()
	x := rawFloat32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	y := rawFloat32(t, tensor.Shape{2, 3}, []float32{10, 20, 30, 40, 50, 60})

	got := b.Add(x, y)
	want := []float32{11, 22, 33, 44, 55, 66}
	if !float32Near(got.AsFloat32(), want) {
		t.Errorf("Add = %v, want %v", got.AsFloat32(), want)
	}
}

func TestAddInplaceWhenUnique(t *testing.T) {
	b := New()
	x := rawFloat32(t, tensor.Shape{3}, []float32{1, 2, 3})
	y := rawFloat32(t, tensor.Shape{3}, []float32{10, 10, 10})

	got := b.Add(x, y)
	if got != x {
		t.Error("unique left operand should be reused in place")
	}
}

func TestAddAllocatesWhenShared(t *testing.T) {
	b := New()
	x := rawFloat32(t, tensor.Shape{3}, []float32{1, 2, 3})
	view := x.Clone()
	y := rawFloat32(t, tensor.Shape{3}, []float32{10, 10, 10})

	got := b.Add(x, y)
	if got == x {
		t.Error("shared left operand must not be mutated")
	}
	if !float32Near(view.AsFloat32(), []float32{1, 2, 3}) {
		t.Errorf("shared view changed: %v", view.AsFloat32())
	}
}

func TestSubMulDiv(t *testing.T) {
	b := New()
	cases := []struct {
		name string
		op   func(x, y *tensor.RawTensor) *tensor.RawTensor
		want []float32
	}{
		{"Sub", b.Sub, []float32{9, 18, 27}},
		{"Mul", b.Mul, []float32{10, 40, 90}},
		{"Div", b.Div, []float32{10, 10, 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x := rawFloat32(t, tensor.Shape{3}, []float32{10, 20, 30})
			y := rawFloat32(t, tensor.Shape{3}, []float32{1, 2, 3})
			got := tc.op(x, y)
			if !float32Near(got.AsFloat32(), tc.want) {
				t.Errorf("%s = %v, want %v", tc.name, got.AsFloat32(), tc.want)
			}
		})
	}
}

func TestAddBroadcastRow(t *testing.T) {
	b := New()
	// Bias-add pattern: [2,3] + [3].
	x := rawFloat32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	bias := rawFloat32(t, tensor.Shape{3}, []float32{10, 20, 30})

	got := b.Add(x, bias)
	want := []float32{11, 22, 33, 14, 25, 36}
	if !got.Shape().Equal(tensor.Shape{2, 3}) {
		t.Fatalf("shape = %v, want [2 3]", got.Shape())
	}
	if !float32Near(got.AsFloat32(), want) {
		t.Errorf("broadcast Add = %v, want %v", got.AsFloat32(), want)
	}
}

func TestMulBroadcastColumn(t *testing.T) {
	b := New()
	x := rawFloat32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	col := rawFloat32(t, tensor.Shape{2, 1}, []float32{10, 100})

	got := b.Mul(x, col)
	want := []float32{10, 20, 30, 400, 500, 600}
	if !float32Near(got.AsFloat32(), want) {
		t.Errorf("broadcast Mul = %v, want %v", got.AsFloat32(), want)
	}
}

func TestScalarOps(t *testing.T) {
	b := New()
	t.Run("MulScalarFloat", func(t *testing.T) {
		x := rawFloat32(t, tensor.Shape{3}, []float32{1, 2, 3})
		got := b.MulScalar(x, float32(2.5))
		if !float32Near(got.AsFloat32(), []float32{2.5, 5, 7.5}) {
			t.Errorf("MulScalar = %v", got.AsFloat32())
		}
	})
	t.Run("AddScalarInt", func(t *testing.T) {
		x := rawInt32(t, tensor.Shape{3}, []int32{1, 2, 3})
		got := b.AddScalar(x, 10)
		want := []int32{11, 12, 13}
		for i, v := range got.AsInt32() {
			if v != want[i] {
				t.Errorf("AddScalar[%d] = %d, want %d", i, v, want[i])
			}
		}
	})
	t.Run("SharedInputPreserved", func(t *testing.T) {
		x := rawFloat32(t, tensor.Shape{2}, []float32{1, 2})
		view := x.Clone()
		got := b.SubScalar(x, float32(1))
		if got == x {
			t.Error("shared operand should not be mutated")
		}
		_ = view
	})
}

func TestDTypeMismatchPanics(t *testing.T) {
	b := New()
	x := rawFloat32(t, tensor.Shape{2}, []float32{1, 2})
	y := rawInt32(t, tensor.Shape{2}, []int32{1, 2})

	defer func() {
		if recover() == nil {
			t.Error("expected panic on dtype mismatch")
		}
	}()
	b.Add(x, y)
}

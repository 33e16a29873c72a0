//go:build windows

package webgpu

import (
	"math"
	"testing"

	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/tensor"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	if !IsAvailable() {
		t.Skip("WebGPU not available on this system")
	}
	backend, err := New()
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(backend.Release)
	return backend
}

func float32Tensor(t *testing.T, shape tensor.Shape, values []float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.WebGPU)
	if err != nil {
		t.Fatalf("NewRaw(%v) = %v", shape, err)
	}
	copy(raw.AsFloat32(), values)
	return raw
}

func int32Tensor(t *testing.T, shape tensor.Shape, values []int32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Int32, tensor.WebGPU)
	if err != nil {
		t.Fatalf("NewRaw(%v) = %v", shape, err)
	}
	copy(raw.AsInt32(), values)
	return raw
}

func wantClose(t *testing.T, want, got []float32, tolerance float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("length mismatch: want %d elements, got %d", len(want), len(got))
	}
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > tolerance {
			t.Errorf("element %d = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestIsAvailable(t *testing.T) {
	t.Logf("WebGPU available: %v", IsAvailable())
}

func TestBackendProperties(t *testing.T) {
	backend := newTestBackend(t)

	if backend.Name() == "" {
		t.Error("Name() is empty")
	}
	t.Logf("backend: %s", backend.Name())

	if backend.Device() != tensor.WebGPU {
		t.Errorf("Device() = %v, want %v", backend.Device(), tensor.WebGPU)
	}

	if info := backend.AdapterInfo(); info != nil {
		t.Logf("adapter: %s (%s)", info.Name, info.VendorName)
	}
}

func TestElementwiseMatchesHost(t *testing.T) {
	backend := newTestBackend(t)
	host := cpu.New()

	x := float32Tensor(t, tensor.Shape{2, 3}, []float32{1, -2, 3, 0.5, 8, -1.25})
	y := float32Tensor(t, tensor.Shape{2, 3}, []float32{4, 0.25, -3, 2, -8, 5})

	cases := []struct {
		name string
		gpu  func(a, b *tensor.RawTensor) *tensor.RawTensor
		ref  func(a, b *tensor.RawTensor) *tensor.RawTensor
	}{
		{"Add", backend.Add, host.Add},
		{"Sub", backend.Sub, host.Sub},
		{"Mul", backend.Mul, host.Mul},
		{"Div", backend.Div, host.Div},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.gpu(x, y)
			want := tc.ref(x, y)
			if !got.Shape().Equal(x.Shape()) {
				t.Fatalf("result shape = %v, want %v", got.Shape(), x.Shape())
			}
			wantClose(t, want.AsFloat32(), got.AsFloat32(), 1e-6)
		})
	}
}

func TestScalarOpsMatchHost(t *testing.T) {
	backend := newTestBackend(t)
	host := cpu.New()

	x := float32Tensor(t, tensor.Shape{5}, []float32{1, -2, 3.5, 0, 100})

	cases := []struct {
		name   string
		scalar any
		gpu    func(a *tensor.RawTensor, s any) *tensor.RawTensor
		ref    func(a *tensor.RawTensor, s any) *tensor.RawTensor
	}{
		{"AddScalar", float32(1.5), backend.AddScalar, host.AddScalar},
		{"SubScalar", 2.0, backend.SubScalar, host.SubScalar},
		{"MulScalar", 3, backend.MulScalar, host.MulScalar},
		{"DivScalar", float32(4), backend.DivScalar, host.DivScalar},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.gpu(x, tc.scalar)
			want := tc.ref(x, tc.scalar)
			wantClose(t, want.AsFloat32(), got.AsFloat32(), 1e-6)
		})
	}
}

func TestUnaryOpsMatchHost(t *testing.T) {
	backend := newTestBackend(t)
	host := cpu.New()

	// Positive inputs so Log and Sqrt stay finite.
	positive := float32Tensor(t, tensor.Shape{4}, []float32{0.5, 1, 2.25, 9})
	signed := float32Tensor(t, tensor.Shape{4}, []float32{-3, -0.5, 0, 2})

	t.Run("Exp", func(t *testing.T) {
		wantClose(t, host.Exp(signed).AsFloat32(), backend.Exp(signed).AsFloat32(), 1e-5)
	})
	t.Run("Log", func(t *testing.T) {
		wantClose(t, host.Log(positive).AsFloat32(), backend.Log(positive).AsFloat32(), 1e-6)
	})
	t.Run("Sqrt", func(t *testing.T) {
		wantClose(t, host.Sqrt(positive).AsFloat32(), backend.Sqrt(positive).AsFloat32(), 1e-6)
	})
	t.Run("ReLU", func(t *testing.T) {
		wantClose(t, host.ReLU(signed).AsFloat32(), backend.ReLU(signed).AsFloat32(), 0)
	})
}

func TestMatMulMatchesHost(t *testing.T) {
	backend := newTestBackend(t)
	host := cpu.New()

	t.Run("small", func(t *testing.T) {
		x := float32Tensor(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
		y := float32Tensor(t, tensor.Shape{3, 2}, []float32{7, 8, 9, 10, 11, 12})

		got := backend.MatMul(x, y)
		if !got.Shape().Equal(tensor.Shape{2, 2}) {
			t.Fatalf("result shape = %v, want [2 2]", got.Shape())
		}
		wantClose(t, host.MatMul(x, y).AsFloat32(), got.AsFloat32(), 1e-4)
	})

	// Dimensions that do not divide the 16x16 workgroup tile.
	t.Run("unaligned", func(t *testing.T) {
		const m, k, n = 17, 33, 5
		xs := make([]float32, m*k)
		ys := make([]float32, k*n)
		for i := range xs {
			xs[i] = float32((i*7+3)%11) / 11
		}
		for i := range ys {
			ys[i] = float32((i*5+1)%13) / 13
		}
		x := float32Tensor(t, tensor.Shape{m, k}, xs)
		y := float32Tensor(t, tensor.Shape{k, n}, ys)

		got := backend.MatMul(x, y)
		if !got.Shape().Equal(tensor.Shape{m, n}) {
			t.Fatalf("result shape = %v, want [%d %d]", got.Shape(), m, n)
		}
		wantClose(t, host.MatMul(x, y).AsFloat32(), got.AsFloat32(), 1e-3)
	})
}

func TestHostFallbacks(t *testing.T) {
	backend := newTestBackend(t)

	t.Run("int32 add", func(t *testing.T) {
		x := int32Tensor(t, tensor.Shape{3}, []int32{1, 2, 3})
		y := int32Tensor(t, tensor.Shape{3}, []int32{10, 20, 30})

		got := backend.Add(x, y).AsInt32()
		want := []int32{11, 22, 33}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("element %d = %d, want %d", i, got[i], want[i])
			}
		}
	})

	t.Run("broadcast add", func(t *testing.T) {
		x := float32Tensor(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
		y := float32Tensor(t, tensor.Shape{3}, []float32{10, 20, 30})

		got := backend.Add(x, y)
		if !got.Shape().Equal(tensor.Shape{2, 3}) {
			t.Fatalf("result shape = %v, want [2 3]", got.Shape())
		}
		wantClose(t, []float32{11, 22, 33, 14, 25, 36}, got.AsFloat32(), 0)
	})

	t.Run("delegated softmax", func(t *testing.T) {
		x := float32Tensor(t, tensor.Shape{1, 3}, []float32{1, 2, 3})
		probs := backend.Softmax(x, 1).AsFloat32()
		var sum float32
		for _, p := range probs {
			sum += p
		}
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Errorf("softmax row sums to %g, want 1", sum)
		}
	})
}

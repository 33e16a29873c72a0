package nn

import (
	"testing"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/tensor"
)

func TestLinearShapes(t *testing.T) {
	backend := cpu.New()
	layer := NewLinear(784, 128, backend)

	if got := layer.Weight().Tensor().Shape(); !got.Equal(tensor.Shape{128, 784}) {
		t.Errorf("weight shape = %v, want [128 784]", got)
	}
	if got := layer.Bias().Tensor().Shape(); !got.Equal(tensor.Shape{128}) {
		t.Errorf("bias shape = %v, want [128]", got)
	}
	if n := len(layer.Parameters()); n != 2 {
		t.Errorf("parameter count = %d, want 2", n)
	}

	input := tensor.Zeros[float32](tensor.Shape{16, 784}, backend)
	if got := layer.Forward(input).Shape(); !got.Equal(tensor.Shape{16, 128}) {
		t.Errorf("output shape = %v, want [16 128]", got)
	}
}

func TestLinearForwardValues(t *testing.T) {
	backend := cpu.New()
	layer := NewLinear(2, 2, backend)

	// Weight rows are per-output: y_j = sum_i x_i * w[j][i] + b_j.
	w := layer.Weight().Raw().AsFloat32()
	w[0], w[1] = 1, 2
	w[2], w[3] = 3, 4
	b := layer.Bias().Raw().AsFloat32()
	b[0], b[1] = 10, 20

	input, err := tensor.FromSlice([]float32{1, 1}, tensor.Shape{1, 2}, backend)
	if err != nil {
		t.Fatal(err)
	}
	out := layer.Forward(input).Raw().AsFloat32()

	if out[0] != 13 || out[1] != 27 {
		t.Errorf("output = %v, want [13 27]", out)
	}
}

func TestLinearGradients(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().SetRecording(true)
	defer backend.Tape().Clear()

	layer := NewLinear(3, 2, backend)
	input, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{1, 3}, backend)
	if err != nil {
		t.Fatal(err)
	}

	out := layer.Forward(input)
	loss := tensor.New[float32](backend.Sum(out.Raw()), backend)

	grads := backend.Tape().Backward(loss.Raw(), tensor.OnesRaw(tensor.Shape{1}, backend.Device()), backend)

	wg, ok := grads[layer.Weight().Raw()]
	if !ok {
		t.Fatal("no gradient for weight")
	}
	// d(sum)/dW[j][i] = x[i] for every output row j.
	want := []float32{1, 2, 3, 1, 2, 3}
	for i, v := range wg.AsFloat32() {
		if !near(v, want[i], 1e-6) {
			t.Errorf("weight grad[%d] = %v, want %v", i, v, want[i])
		}
	}

	bg, ok := grads[layer.Bias().Raw()]
	if !ok {
		t.Fatal("no gradient for bias")
	}
	for i, v := range bg.AsFloat32() {
		if !near(v, 1, 1e-6) {
			t.Errorf("bias grad[%d] = %v, want 1", i, v)
		}
	}
}

func TestLinearStateDictRoundTrip(t *testing.T) {
	backend := cpu.New()

	src := NewLinear(4, 3, backend)
	dst := NewLinear(4, 3, backend)

	if err := dst.LoadStateDict(src.StateDict()); err != nil {
		t.Fatal(err)
	}

	srcW, dstW := src.Weight().Raw().AsFloat32(), dst.Weight().Raw().AsFloat32()
	for i := range srcW {
		if srcW[i] != dstW[i] {
			t.Fatalf("weight[%d] not copied: %v vs %v", i, srcW[i], dstW[i])
		}
	}
}

func TestLinearLoadRejectsShapeMismatch(t *testing.T) {
	backend := cpu.New()

	layer := NewLinear(4, 3, backend)
	wrong := NewLinear(5, 3, backend)

	if err := layer.LoadStateDict(wrong.StateDict()); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

package nn

import (
	"math"
	"testing"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/tensor"
)

func TestBatchNorm2DTrainingNormalizes(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm2D(1, backend)

	input, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 1, 4}, backend)
	if err != nil {
		t.Fatal(err)
	}
	out := bn.Forward(input).Raw().AsFloat32()

	// mean 2.5, biased variance 1.25
	std := float32(math.Sqrt(1.25 + 1e-5))
	want := []float32{-1.5 / std, -0.5 / std, 0.5 / std, 1.5 / std}
	for i, v := range want {
		if !near(out[i], v, 1e-5) {
			t.Errorf("out[%d] = %v, want %v", i, out[i], v)
		}
	}
}

func TestBatchNorm2DRunningStats(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm2D(1, backend)

	input, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 1, 4}, backend)
	if err != nil {
		t.Fatal(err)
	}
	bn.Forward(input)

	mean, variance := bn.RunningStats()
	// 0.9*0 + 0.1*2.5
	if got := mean.AsFloat32()[0]; !near(got, 0.25, 1e-6) {
		t.Errorf("running mean = %v, want 0.25", got)
	}
	// 0.9*1 + 0.1 * 1.25 * 4/3 (unbiased correction)
	if got := variance.AsFloat32()[0]; !near(got, 1.0666667, 1e-5) {
		t.Errorf("running var = %v, want 1.0666667", got)
	}
}

func TestBatchNorm2DEvalUsesRunningStats(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm2D(1, backend)
	bn.SetTraining(false)

	mean, variance := bn.RunningStats()
	mean.AsFloat32()[0] = 2
	variance.AsFloat32()[0] = 4

	input, err := tensor.FromSlice([]float32{2, 6}, tensor.Shape{1, 1, 1, 2}, backend)
	if err != nil {
		t.Fatal(err)
	}
	out := bn.Forward(input).Raw().AsFloat32()

	// (x-2)/sqrt(4+eps)
	if !near(out[0], 0, 1e-5) || !near(out[1], 2, 1e-4) {
		t.Errorf("out = %v, want [0 2]", out)
	}

	// Eval mode must not move the running statistics.
	if got := mean.AsFloat32()[0]; got != 2 {
		t.Errorf("running mean changed to %v in eval mode", got)
	}
}

func TestBatchNorm2DScaleShift(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm2D(1, backend)
	bn.SetTraining(false)

	bn.Weight().Raw().AsFloat32()[0] = 3
	bn.Bias().Raw().AsFloat32()[0] = 1

	// Running stats stay at mean 0, var 1, so xhat is approximately x.
	input, err := tensor.FromSlice([]float32{2}, tensor.Shape{1, 1, 1, 1}, backend)
	if err != nil {
		t.Fatal(err)
	}
	out := bn.Forward(input).Raw().AsFloat32()

	if !near(out[0], 7, 1e-4) {
		t.Errorf("out = %v, want 7", out[0])
	}
}

func TestBatchNorm2DStateDict(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm2D(3, backend)

	state := bn.StateDict()
	for _, key := range []string{"weight", "bias", "running_mean", "running_var"} {
		if _, ok := state[key]; !ok {
			t.Errorf("state dict missing %q", key)
		}
	}

	other := NewBatchNorm2D(3, backend)
	mean, _ := bn.RunningStats()
	mean.AsFloat32()[1] = 0.5
	if err := other.LoadStateDict(state); err != nil {
		t.Fatal(err)
	}
	otherMean, _ := other.RunningStats()
	if got := otherMean.AsFloat32()[1]; got != 0.5 {
		t.Errorf("running mean not restored: %v", got)
	}
}

func TestBatchNorm2DGradients(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().SetRecording(true)
	defer backend.Tape().Clear()

	bn := NewBatchNorm2D(1, backend)
	input, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 1, 4}, backend)
	if err != nil {
		t.Fatal(err)
	}

	out := bn.Forward(input)
	loss := tensor.New[float32](backend.Sum(out.Raw()), backend)
	grads := backend.Tape().Backward(loss.Raw(), tensor.OnesRaw(tensor.Shape{1}, backend.Device()), backend)

	// d(sum)/d(beta) is the element count; d(sum)/d(gamma) sums xhat,
	// which is zero for normalized values.
	bg, ok := grads[bn.Bias().Raw()]
	if !ok {
		t.Fatal("no gradient for shift")
	}
	if got := bg.AsFloat32()[0]; !near(got, 4, 1e-4) {
		t.Errorf("shift grad = %v, want 4", got)
	}

	gg, ok := grads[bn.Weight().Raw()]
	if !ok {
		t.Fatal("no gradient for scale")
	}
	if got := gg.AsFloat32()[0]; !near(got, 0, 1e-4) {
		t.Errorf("scale grad = %v, want 0", got)
	}
}

package nn

import (
	"math"
	"testing"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/tensor"
)

func TestCrossEntropyUniformLogits(t *testing.T) {
	backend := cpu.New()
	criterion := NewCrossEntropyLoss(backend)

	logits := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
	targets, err := tensor.FromSlice([]int32{0, 2}, tensor.Shape{2}, backend)
	if err != nil {
		t.Fatal(err)
	}

	loss := criterion.Forward(logits, targets).Item()
	want := float32(math.Log(3))
	if !near(loss, want, 1e-6) {
		t.Errorf("loss = %v, want ln(3) = %v", loss, want)
	}
}

func TestCrossEntropyKnownValue(t *testing.T) {
	backend := cpu.New()
	criterion := NewCrossEntropyLoss(backend)

	logits, err := tensor.FromSlice([]float32{2, 0}, tensor.Shape{1, 2}, backend)
	if err != nil {
		t.Fatal(err)
	}
	targets, err := tensor.FromSlice([]int32{0}, tensor.Shape{1}, backend)
	if err != nil {
		t.Fatal(err)
	}

	loss := criterion.Forward(logits, targets).Item()
	// ln(1 + e^-2)
	want := float32(math.Log(1 + math.Exp(-2)))
	if !near(loss, want, 1e-6) {
		t.Errorf("loss = %v, want %v", loss, want)
	}
}

func TestCrossEntropyFusedMatchesFallback(t *testing.T) {
	plain := cpu.New()
	recorded := autodiff.New(cpu.New())

	logitValues := []float32{1.5, -0.3, 0.2, -2, 0.7, 3.1}
	targetValues := []int32{2, 0}

	plainLogits, err := tensor.FromSlice(logitValues, tensor.Shape{2, 3}, plain)
	if err != nil {
		t.Fatal(err)
	}
	plainTargets, err := tensor.FromSlice(targetValues, tensor.Shape{2}, plain)
	if err != nil {
		t.Fatal(err)
	}
	fallback := NewCrossEntropyLoss(plain).Forward(plainLogits, plainTargets).Item()

	adLogits, err := tensor.FromSlice(logitValues, tensor.Shape{2, 3}, recorded)
	if err != nil {
		t.Fatal(err)
	}
	adTargets, err := tensor.FromSlice(targetValues, tensor.Shape{2}, recorded)
	if err != nil {
		t.Fatal(err)
	}
	fused := NewCrossEntropyLoss(recorded).Forward(adLogits, adTargets).Item()

	if !near(fused, fallback, 1e-6) {
		t.Errorf("fused loss %v != fallback loss %v", fused, fallback)
	}
}

func TestCrossEntropyGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().SetRecording(true)
	defer backend.Tape().Clear()

	logits := tensor.Zeros[float32](tensor.Shape{1, 2}, backend)
	targets, err := tensor.FromSlice([]int32{0}, tensor.Shape{1}, backend)
	if err != nil {
		t.Fatal(err)
	}

	loss := NewCrossEntropyLoss(backend).Forward(logits, targets)
	grads := backend.Tape().Backward(loss.Raw(), tensor.OnesRaw(tensor.Shape{1}, backend.Device()), backend)

	lg, ok := grads[logits.Raw()]
	if !ok {
		t.Fatal("no gradient for logits")
	}
	// softmax([0,0]) - onehot(0) = [-0.5, 0.5]
	data := lg.AsFloat32()
	if !near(data[0], -0.5, 1e-6) || !near(data[1], 0.5, 1e-6) {
		t.Errorf("logits grad = %v, want [-0.5 0.5]", data)
	}

	if _, ok := grads[targets.Raw()]; ok {
		t.Error("targets must not receive a gradient")
	}
}

func TestAccuracy(t *testing.T) {
	backend := cpu.New()

	logits, err := tensor.FromSlice(
		[]float32{2, 1, 0, 3, 5, 0},
		tensor.Shape{3, 2}, backend)
	if err != nil {
		t.Fatal(err)
	}

	perfect, err := tensor.FromSlice([]int32{0, 1, 0}, tensor.Shape{3}, backend)
	if err != nil {
		t.Fatal(err)
	}
	if got := Accuracy(logits, perfect); got != 1 {
		t.Errorf("accuracy = %v, want 1", got)
	}

	partial, err := tensor.FromSlice([]int32{1, 1, 0}, tensor.Shape{3}, backend)
	if err != nil {
		t.Fatal(err)
	}
	if got := Accuracy(logits, partial); !near(got, 2.0/3.0, 1e-6) {
		t.Errorf("accuracy = %v, want 2/3", got)
	}
}

func TestSoftmaxMetric(t *testing.T) {
	backend := cpu.New()

	logits, err := tensor.FromSlice([]float32{0, 0, 1, 3}, tensor.Shape{2, 2}, backend)
	if err != nil {
		t.Fatal(err)
	}
	probs := Softmax(logits, 1).Raw().AsFloat32()

	if !near(probs[0], 0.5, 1e-6) || !near(probs[1], 0.5, 1e-6) {
		t.Errorf("row 0 = [%v %v], want [0.5 0.5]", probs[0], probs[1])
	}
	if !near(probs[2]+probs[3], 1, 1e-6) {
		t.Errorf("row 1 sums to %v, want 1", probs[2]+probs[3])
	}
	if probs[3] <= probs[2] {
		t.Errorf("larger logit should get larger probability: %v", probs[2:])
	}
}

func TestArgmaxMetric(t *testing.T) {
	backend := cpu.New()

	logits, err := tensor.FromSlice([]float32{0.1, 0.9, 2, -1}, tensor.Shape{2, 2}, backend)
	if err != nil {
		t.Fatal(err)
	}
	pred := Argmax(logits, 1)

	if !pred.Shape().Equal(tensor.Shape{2}) {
		t.Fatalf("argmax shape = %v, want [2]", pred.Shape())
	}
	data := pred.Raw().AsInt32()
	if data[0] != 1 || data[1] != 0 {
		t.Errorf("argmax = %v, want [1 0]", data)
	}
}

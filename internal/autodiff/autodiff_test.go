package autodiff

import (
	"math"
	"testing"

	"github.com/kiln-ml/kiln/internal/autodiff/ops"
	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/tensor"
)

func newTestBackend() *Backend[*cpu.Backend] {
	return New(cpu.New())
}

func fromFloat32(t *testing.T, shape tensor.Shape, data []float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw(%v): %v", shape, err)
	}
	copy(r.AsFloat32(), data)
	return r
}

func fromInt32(t *testing.T, shape tensor.Shape, data []int32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Int32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw(%v): %v", shape, err)
	}
	copy(r.AsInt32(), data)
	return r
}

func ones(t *testing.T, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r := tensor.OnesRaw(shape, tensor.CPU)
	return r
}

func near(a, b float32) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-4
}

func TestTapeRecordsOnlyWhileRecording(t *testing.T) {
	be := newTestBackend()
	x := fromFloat32(t, tensor.Shape{2}, []float32{1, 2})
	y := fromFloat32(t, tensor.Shape{2}, []float32{3, 4})

	be.Add(x, y)
	if be.Tape().NumOps() != 0 {
		t.Fatalf("recorded %d ops before SetRecording(true)", be.Tape().NumOps())
	}

	be.Tape().SetRecording(true)
	be.Add(x, y)
	if be.Tape().NumOps() != 1 {
		t.Fatalf("recorded %d ops, want 1", be.Tape().NumOps())
	}

	be.Tape().Clear()
	if be.Tape().NumOps() != 0 {
		t.Fatal("Clear left operations on the tape")
	}
	if !be.Tape().IsRecording() {
		t.Fatal("Clear must preserve the recording flag")
	}
}

func TestSquareGradient(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	// y = x * x, dy/dx = 2x. The same tensor feeds both slots, so the
	// two partial gradients must accumulate.
	x := fromFloat32(t, tensor.Shape{1}, []float32{3})
	y := be.Mul(x, x)

	grads := be.Tape().Backward(y, ones(t, tensor.Shape{1}), be)
	got, ok := grads[x]
	if !ok {
		t.Fatal("no gradient for x")
	}
	if !near(got.AsFloat32()[0], 6) {
		t.Errorf("dy/dx = %v, want 6", got.AsFloat32()[0])
	}
}

func TestAddSubGradients(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	x := fromFloat32(t, tensor.Shape{2}, []float32{1, 2})
	y := fromFloat32(t, tensor.Shape{2}, []float32{5, 5})
	out := be.Sub(be.Add(x, y), y) // out = x

	grads := be.Tape().Backward(out, ones(t, tensor.Shape{2}), be)
	gx := grads[x].AsFloat32()
	gy := grads[y].AsFloat32()
	for i := range gx {
		if !near(gx[i], 1) {
			t.Errorf("dx[%d] = %v, want 1", i, gx[i])
		}
		// +1 from the Add path, -1 from the Sub path.
		if !near(gy[i], 0) {
			t.Errorf("dy[%d] = %v, want 0", i, gy[i])
		}
	}
}

func TestDivGradient(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	a := fromFloat32(t, tensor.Shape{1}, []float32{6})
	b := fromFloat32(t, tensor.Shape{1}, []float32{2})
	out := be.Div(a, b)

	grads := be.Tape().Backward(out, ones(t, tensor.Shape{1}), be)
	if !near(grads[a].AsFloat32()[0], 0.5) {
		t.Errorf("da = %v, want 1/b = 0.5", grads[a].AsFloat32()[0])
	}
	if !near(grads[b].AsFloat32()[0], -1.5) {
		t.Errorf("db = %v, want -a/b² = -1.5", grads[b].AsFloat32()[0])
	}
}

func TestMatMulGradient(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	a := fromFloat32(t, tensor.Shape{2, 2}, []float32{1, 2, 3, 4})
	b := fromFloat32(t, tensor.Shape{2, 2}, []float32{5, 6, 7, 8})
	out := be.MatMul(a, b)

	grads := be.Tape().Backward(out, ones(t, tensor.Shape{2, 2}), be)

	// dA = grad @ Bᵀ with grad all ones: row sums of B.
	wantA := []float32{11, 15, 11, 15}
	// dB = Aᵀ @ grad: column sums of A in each row.
	wantB := []float32{4, 4, 6, 6}
	for i := range wantA {
		if !near(grads[a].AsFloat32()[i], wantA[i]) {
			t.Errorf("dA[%d] = %v, want %v", i, grads[a].AsFloat32()[i], wantA[i])
		}
		if !near(grads[b].AsFloat32()[i], wantB[i]) {
			t.Errorf("dB[%d] = %v, want %v", i, grads[b].AsFloat32()[i], wantB[i])
		}
	}
}

func TestBroadcastBiasGradient(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	x := fromFloat32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	bias := fromFloat32(t, tensor.Shape{3}, []float32{0.1, 0.2, 0.3})
	out := be.Add(x, bias)

	grads := be.Tape().Backward(out, ones(t, tensor.Shape{2, 3}), be)
	g := grads[bias]
	if !g.Shape().Equal(tensor.Shape{3}) {
		t.Fatalf("bias grad shape = %v, want [3]", g.Shape())
	}
	for i, v := range g.AsFloat32() {
		if !near(v, 2) {
			t.Errorf("dbias[%d] = %v, want 2 (summed over batch)", i, v)
		}
	}
}

func TestReLUGradientMasks(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	x := fromFloat32(t, tensor.Shape{4}, []float32{-1, -0.1, 0.1, 2})
	out := be.ReLU(x)

	grads := be.Tape().Backward(out, ones(t, tensor.Shape{4}), be)
	want := []float32{0, 0, 1, 1}
	for i, v := range grads[x].AsFloat32() {
		if !near(v, want[i]) {
			t.Errorf("dReLU[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestTransposeRoutesGradientToParameter(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	// The Linear-layer pattern: a stored weight is transposed before the
	// matmul, and its gradient must come back to the stored tensor.
	w := fromFloat32(t, tensor.Shape{1, 2}, []float32{1, 2})
	x := fromFloat32(t, tensor.Shape{1, 2}, []float32{3, 4})
	out := be.MatMul(x, be.Transpose(w))

	grads := be.Tape().Backward(out, ones(t, tensor.Shape{1, 1}), be)
	g, ok := grads[w]
	if !ok {
		t.Fatal("no gradient reached the original weight")
	}
	if !g.Shape().Equal(tensor.Shape{1, 2}) {
		t.Fatalf("dW shape = %v, want [1 2]", g.Shape())
	}
	if !near(g.AsFloat32()[0], 3) || !near(g.AsFloat32()[1], 4) {
		t.Errorf("dW = %v, want [3 4]", g.AsFloat32())
	}
}

func TestCrossEntropy(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	logits := fromFloat32(t, tensor.Shape{1, 2}, []float32{0, 0})
	targets := fromInt32(t, tensor.Shape{1}, []int32{0})

	loss := be.CrossEntropy(logits, targets)
	if !near(loss.AsFloat32()[0], float32(math.Log(2))) {
		t.Errorf("loss = %v, want ln2", loss.AsFloat32()[0])
	}

	grads := be.Tape().Backward(loss, ones(t, tensor.Shape{1}), be)
	g := grads[logits].AsFloat32()
	if !near(g[0], -0.5) || !near(g[1], 0.5) {
		t.Errorf("dlogits = %v, want [-0.5 0.5]", g)
	}
}

func TestConv2DGradientFiniteDifference(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	input := fromFloat32(t, tensor.Shape{1, 1, 3, 3}, []float32{
		0.5, -0.2, 0.3,
		0.1, 0.7, -0.4,
		-0.6, 0.2, 0.8,
	})
	kernel := fromFloat32(t, tensor.Shape{1, 1, 2, 2}, []float32{0.3, -0.1, 0.2, 0.4})

	out := be.Conv2D(input, kernel, 1, 0)
	loss := be.Sum(out)
	grads := be.Tape().Backward(loss, ones(t, tensor.Shape{1}), be)

	inner := cpu.New()
	const h = 1e-3
	for _, probe := range []int{0, 4, 8} {
		perturbed := input.DeepClone()
		perturbed.AsFloat32()[probe] += h
		outP := inner.Conv2D(perturbed, kernel, 1, 0)
		var base, pert float32
		for i := range out.AsFloat32() {
			base += out.AsFloat32()[i]
			pert += outP.AsFloat32()[i]
		}
		numeric := (pert - base) / h
		analytic := grads[input].AsFloat32()[probe]
		if diff := numeric - analytic; diff > 1e-2 || diff < -1e-2 {
			t.Errorf("dInput[%d] = %v, finite difference %v", probe, analytic, numeric)
		}
	}
}

func TestOpsAfterLossAreSkipped(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	x := fromFloat32(t, tensor.Shape{1, 2}, []float32{1, 2})
	loss := be.Sum(x)
	// Metric work recorded after the loss must not disturb its gradient.
	be.Softmax(x, 1)

	grads := be.Tape().Backward(loss, ones(t, tensor.Shape{1}), be)
	for i, v := range grads[x].AsFloat32() {
		if !near(v, 1) {
			t.Errorf("dx[%d] = %v, want 1", i, v)
		}
	}
}

func TestGradObserverReplacesGradient(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	x := fromFloat32(t, tensor.Shape{2}, []float32{1, 2})
	out := be.ReLU(x)

	called := false
	be.Tape().SetObserver(func(op ops.Operation, grad *tensor.RawTensor) *tensor.RawTensor {
		if _, isReLU := op.(*ops.ReLUOp); !isReLU {
			return nil
		}
		called = true
		doubled := grad.DeepClone()
		for i := range doubled.AsFloat32() {
			doubled.AsFloat32()[i] *= 2
		}
		return doubled
	})
	defer be.Tape().SetObserver(nil)

	grads := be.Tape().Backward(out, ones(t, tensor.Shape{2}), be)
	if !called {
		t.Fatal("observer was never invoked")
	}
	for i, v := range grads[x].AsFloat32() {
		if !near(v, 2) {
			t.Errorf("observed dx[%d] = %v, want 2", i, v)
		}
	}
}

func TestMeanDimGradient(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	x := fromFloat32(t, tensor.Shape{2, 4}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	out := be.MeanDim(x, 1, false)

	grads := be.Tape().Backward(out, ones(t, tensor.Shape{2}), be)
	for i, v := range grads[x].AsFloat32() {
		if !near(v, 0.25) {
			t.Errorf("dx[%d] = %v, want 0.25", i, v)
		}
	}
}

func TestForwardDoesNotAliasRecordedInputs(t *testing.T) {
	be := newTestBackend()
	be.Tape().SetRecording(true)

	// A uniquely held operand would normally be reused in place by the CPU
	// backend; under recording that would corrupt the saved forward value.
	x := fromFloat32(t, tensor.Shape{2}, []float32{1, 2})
	y := fromFloat32(t, tensor.Shape{2}, []float32{10, 20})
	out := be.Add(x, y)

	if out == x || out == y {
		t.Fatal("recorded operation reused an input buffer")
	}
	if x.AsFloat32()[0] != 1 || y.AsFloat32()[0] != 10 {
		t.Fatal("forward inputs were modified")
	}
}

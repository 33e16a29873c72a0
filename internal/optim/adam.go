package optim

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Adam is adaptive moment estimation (Kingma & Ba, 2014).
//
// Per element, with g' = g + weightDecay*param:
//
//	m = beta1*m + (1-beta1)*g'
//	v = beta2*v + (1-beta2)*g'²
//	param -= lr * (m / (1-beta1^t)) / (sqrt(v / (1-beta2^t)) + eps)
//
// The step counter t participates in bias correction and is part of the
// checkpointed state, so a resumed run continues the correction schedule
// instead of restarting it.
type Adam[B tensor.Backend] struct {
	params []*nn.Parameter[B]
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32
	decay  float32
	t      int

	m []*tensor.RawTensor
	v []*tensor.RawTensor
}

// AdamConfig holds Adam hyperparameters. Zero values fall back to the
// usual defaults: lr 0.001, betas (0.9, 0.999), eps 1e-8.
type AdamConfig struct {
	LR          float32
	Beta1       float32
	Beta2       float32
	Eps         float32
	WeightDecay float32
}

func NewAdam[B tensor.Backend](params []*nn.Parameter[B], cfg AdamConfig) *Adam[B] {
	if cfg.LR == 0 {
		cfg.LR = 0.001
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	return &Adam[B]{
		params: params,
		lr:     cfg.LR,
		beta1:  cfg.Beta1,
		beta2:  cfg.Beta2,
		eps:    cfg.Eps,
		decay:  cfg.WeightDecay,
		m:      make([]*tensor.RawTensor, len(params)),
		v:      make([]*tensor.RawTensor, len(params)),
	}
}

func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) error {
	a.t++
	correction1 := 1 - float32(math.Pow(float64(a.beta1), float64(a.t)))
	correction2 := 1 - float32(math.Pow(float64(a.beta2), float64(a.t)))

	for i, param := range a.params {
		grad, err := gradientFor(param, grads)
		if err != nil {
			return err
		}
		if grad == nil {
			continue
		}

		if a.m[i] == nil {
			if a.m[i], err = tensor.NewRaw(param.Raw().Shape(), tensor.Float32, param.Raw().Device()); err != nil {
				return fmt.Errorf("optim: allocating first moment for %q: %w", param.Name(), err)
			}
			if a.v[i], err = tensor.NewRaw(param.Raw().Shape(), tensor.Float32, param.Raw().Device()); err != nil {
				return fmt.Errorf("optim: allocating second moment for %q: %w", param.Name(), err)
			}
		}

		paramData := param.Raw().AsFloat32()
		gradData := grad.AsFloat32()
		mData := a.m[i].AsFloat32()
		vData := a.v[i].AsFloat32()

		for j := range paramData {
			g := gradData[j] + a.decay*paramData[j]
			mData[j] = a.beta1*mData[j] + (1-a.beta1)*g
			vData[j] = a.beta2*vData[j] + (1-a.beta2)*g*g

			mHat := mData[j] / correction1
			vHat := vData[j] / correction2
			paramData[j] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		}
	}
	return nil
}

func (a *Adam[B]) ZeroGrad() {
	for _, param := range a.params {
		param.Tensor().SetGrad(nil)
	}
}

func (a *Adam[B]) GetLR() float32   { return a.lr }
func (a *Adam[B]) SetLR(lr float32) { a.lr = lr }

// Timestep returns how many steps have been applied.
func (a *Adam[B]) Timestep() int { return a.t }

// StateDict exports moment buffers as "m.{i}" and "v.{i}" plus the step
// counter under "step".
func (a *Adam[B]) StateDict() map[string]*tensor.RawTensor {
	state := map[string]*tensor.RawTensor{"step": stepCounter(a.t)}
	for i := range a.params {
		if a.m[i] != nil {
			state[fmt.Sprintf("m.%d", i)] = a.m[i]
			state[fmt.Sprintf("v.%d", i)] = a.v[i]
		}
	}
	return state
}

func (a *Adam[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	if step, ok := state["step"]; ok {
		if step.DType() != tensor.Int64 || step.NumElements() != 1 {
			return fmt.Errorf("optim: malformed step counter in state dict")
		}
		a.t = int(step.AsInt64()[0])
	}
	for i, param := range a.params {
		m, mok := state[fmt.Sprintf("m.%d", i)]
		v, vok := state[fmt.Sprintf("v.%d", i)]
		if mok != vok {
			return fmt.Errorf("optim: moment buffers for parameter %d are incomplete", i)
		}
		if !mok {
			continue
		}
		if !m.Shape().Equal(param.Raw().Shape()) || !v.Shape().Equal(param.Raw().Shape()) {
			return fmt.Errorf("optim: moment shape for parameter %d does not match %v",
				i, param.Raw().Shape())
		}
		a.m[i], a.v[i] = m, v
	}
	return nil
}

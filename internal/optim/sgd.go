package optim

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// SGD is stochastic gradient descent with optional momentum and L2 weight
// decay.
//
// Per element, with g' = g + weightDecay*param:
//
//	velocity = momentum*velocity + g'
//	param   -= lr * velocity
//
// Without momentum the velocity buffer is never allocated and the update
// collapses to param -= lr * g'.
type SGD[B tensor.Backend] struct {
	params []*nn.Parameter[B]
	lr     float32
	mu     float32
	decay  float32

	// velocity[i] pairs with params[i], allocated lazily on first use.
	velocity []*tensor.RawTensor
}

// SGDConfig holds SGD hyperparameters. A zero LR falls back to 0.01.
type SGDConfig struct {
	LR          float32
	Momentum    float32
	WeightDecay float32
}

func NewSGD[B tensor.Backend](params []*nn.Parameter[B], cfg SGDConfig) *SGD[B] {
	if cfg.LR == 0 {
		cfg.LR = 0.01
	}
	return &SGD[B]{
		params:   params,
		lr:       cfg.LR,
		mu:       cfg.Momentum,
		decay:    cfg.WeightDecay,
		velocity: make([]*tensor.RawTensor, len(params)),
	}
}

func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) error {
	for i, param := range s.params {
		grad, err := gradientFor(param, grads)
		if err != nil {
			return err
		}
		if grad == nil {
			continue
		}

		paramData := param.Raw().AsFloat32()
		gradData := grad.AsFloat32()

		if s.mu == 0 {
			for j := range paramData {
				g := gradData[j] + s.decay*paramData[j]
				paramData[j] -= s.lr * g
			}
			continue
		}

		if s.velocity[i] == nil {
			v, err := tensor.NewRaw(param.Raw().Shape(), tensor.Float32, param.Raw().Device())
			if err != nil {
				return fmt.Errorf("optim: allocating velocity for %q: %w", param.Name(), err)
			}
			s.velocity[i] = v
		}
		vel := s.velocity[i].AsFloat32()
		for j := range paramData {
			g := gradData[j] + s.decay*paramData[j]
			vel[j] = s.mu*vel[j] + g
			paramData[j] -= s.lr * vel[j]
		}
	}
	return nil
}

func (s *SGD[B]) ZeroGrad() {
	for _, param := range s.params {
		param.Tensor().SetGrad(nil)
	}
}

func (s *SGD[B]) GetLR() float32   { return s.lr }
func (s *SGD[B]) SetLR(lr float32) { s.lr = lr }

// StateDict exports momentum buffers as "velocity.{i}". Without momentum
// the dict is empty.
func (s *SGD[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	if s.mu == 0 {
		return state
	}
	for i, v := range s.velocity {
		if v != nil {
			state[fmt.Sprintf("velocity.%d", i)] = v
		}
	}
	return state
}

func (s *SGD[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	if s.mu == 0 {
		return nil
	}
	for i, param := range s.params {
		v, ok := state[fmt.Sprintf("velocity.%d", i)]
		if !ok {
			// Not stepped before the checkpoint; stays lazy.
			continue
		}
		if !v.Shape().Equal(param.Raw().Shape()) {
			return fmt.Errorf("optim: velocity.%d shape %v does not match parameter %v",
				i, v.Shape(), param.Raw().Shape())
		}
		s.velocity[i] = v
	}
	return nil
}

package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Sequential chains modules so each output feeds the next input. State-dict
// keys are prefixed with the child's position, "0.weight", "3.running_mean"
// and so on, which keeps names stable as long as the architecture is.
type Sequential[B tensor.Backend] struct {
	modules []Module[B]
}

func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return &Sequential[B]{modules: modules}
}

func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := input
	for _, m := range s.modules {
		out = m.Forward(out)
	}
	return out
}

func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// SetTraining propagates the mode to every child that cares.
func (s *Sequential[B]) SetTraining(training bool) {
	for _, m := range s.modules {
		SetTraining(m, training)
	}
}

// Add appends a module, allowing incremental construction.
func (s *Sequential[B]) Add(m Module[B]) {
	s.modules = append(s.modules, m)
}

func (s *Sequential[B]) Len() int { return len(s.modules) }

// At returns the child at index i; attribution walks the children in
// reverse through this accessor.
func (s *Sequential[B]) At(i int) Module[B] {
	if i < 0 || i >= len(s.modules) {
		panic(fmt.Sprintf("sequential: index %d out of range [0, %d)", i, len(s.modules)))
	}
	return s.modules[i]
}

func (s *Sequential[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for i, m := range s.modules {
		for name, raw := range m.StateDict() {
			state[fmt.Sprintf("%d.%s", i, name)] = raw
		}
	}
	return state
}

func (s *Sequential[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for i, m := range s.modules {
		prefix := fmt.Sprintf("%d.", i)
		child := make(map[string]*tensor.RawTensor)
		for key, raw := range state {
			if len(key) > len(prefix) && key[:len(prefix)] == prefix {
				child[key[len(prefix):]] = raw
			}
		}
		if len(child) == 0 {
			if len(m.StateDict()) == 0 {
				continue
			}
			return fmt.Errorf("no entries for module %d in state dict", i)
		}
		if err := m.LoadStateDict(child); err != nil {
			return fmt.Errorf("module %d: %w", i, err)
		}
	}
	return nil
}

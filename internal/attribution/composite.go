package attribution

import "fmt"

// LayerKind classifies layers for rule assignment.
type LayerKind int

const (
	KindDense LayerKind = iota
	KindConv
	KindActivation
	KindPool
	KindReshape
)

func (k LayerKind) String() string {
	switch k {
	case KindDense:
		return "dense"
	case KindConv:
		return "conv"
	case KindActivation:
		return "activation"
	case KindPool:
		return "pool"
	case KindReshape:
		return "reshape"
	}
	return fmt.Sprintf("LayerKind(%d)", int(k))
}

func (k LayerKind) parameterized() bool {
	return k == KindDense || k == KindConv
}

// Composite maps layer kinds to rules. FirstLayer, when set, overrides
// the rule for the first parameterized layer of the chain.
type Composite struct {
	Name       string
	FirstLayer *Rule
	Rules      map[LayerKind]*Rule
}

// RuleFor returns the rule for a layer of the given kind. first marks the
// first parameterized layer. Unmapped kinds pass relevance through.
func (c *Composite) RuleFor(kind LayerKind, first bool) *Rule {
	if first && kind.parameterized() && c.FirstLayer != nil {
		return c.FirstLayer
	}
	if r, ok := c.Rules[kind]; ok {
		return r
	}
	return Pass()
}

// EpsilonPlusFlat attributes convolutions with ZPlus and dense layers
// with Epsilon; the first parameterized layer spreads flat.
func EpsilonPlusFlat() *Composite {
	return &Composite{
		Name:       "epsilon_plus_flat",
		FirstLayer: Flat(),
		Rules: map[LayerKind]*Rule{
			KindConv:       ZPlus(),
			KindDense:      Epsilon(1e-6),
			KindActivation: Pass(),
			KindPool:       Norm(),
			KindReshape:    Pass(),
		},
	}
}

// EpsilonAlpha2Beta1 attributes convolutions with AlphaBeta(2, 1), so
// excitatory evidence counts twice as strongly as inhibitory; dense
// layers use Epsilon and the first parameterized layer spreads flat.
func EpsilonAlpha2Beta1() *Composite {
	return &Composite{
		Name:       "epsilon_alpha2beta1",
		FirstLayer: Flat(),
		Rules: map[LayerKind]*Rule{
			KindConv:       AlphaBeta(2, 1),
			KindDense:      Epsilon(1e-6),
			KindActivation: Pass(),
			KindPool:       Norm(),
			KindReshape:    Pass(),
		},
	}
}

// ParseComposite resolves a configured composite name.
func ParseComposite(name string) (*Composite, error) {
	switch name {
	case "epsilon_plus_flat":
		return EpsilonPlusFlat(), nil
	case "epsilon_alpha2beta1":
		return EpsilonAlpha2Beta1(), nil
	}
	return nil, fmt.Errorf("attribution: unknown composite %q", name)
}

// Package attribution implements layer-wise relevance propagation for
// sequential classifiers. A Composite assigns a Rule to every layer kind,
// Canonizers rewrite the model into the canonical form the rules expect,
// and the Gradient attributor walks the layers in reverse, turning a
// one-hot output target into input relevance.
package attribution

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// modifier rewrites an activation or weight tensor before a modified
// forward pass. Identity is represented by returning the input unchanged.
type modifier func(t *tensor.RawTensor) *tensor.RawTensor

func identity(t *tensor.RawTensor) *tensor.RawTensor { return t }

func positive(t *tensor.RawTensor) *tensor.RawTensor {
	out := t.DeepClone()
	data := out.AsFloat32()
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
	return out
}

func negative(t *tensor.RawTensor) *tensor.RawTensor {
	out := t.DeepClone()
	data := out.AsFloat32()
	for i, v := range data {
		if v > 0 {
			data[i] = 0
		}
	}
	return out
}

func onesLike(t *tensor.RawTensor) *tensor.RawTensor {
	return tensor.OnesRaw(t.Shape(), t.Device())
}

// term is one modified forward pass. A nil bias modifier drops the bias
// from the pass entirely.
type term struct {
	input modifier
	param modifier
	bias  modifier
}

// group collects terms whose pre-activations are summed, stabilized once,
// and back-projected together. AlphaBeta uses two groups with opposite
// signs; every other rule uses one.
type group struct {
	scale float32
	terms []term
}

// Rule describes how relevance crosses one parameterized layer as a set
// of modified forward and backward passes. A rule with no groups passes
// relevance through unchanged.
type Rule struct {
	Name   string
	eps    float32
	groups []group
}

// Epsilon is the stabilized z-rule: relevance is split in proportion to
// each input's share of the pre-activation, with eps damping near-zero
// denominators.
func Epsilon(eps float32) *Rule {
	if eps <= 0 {
		eps = 1e-6
	}
	return &Rule{
		Name: fmt.Sprintf("epsilon(%g)", eps),
		eps:  eps,
		groups: []group{{scale: 1, terms: []term{
			{input: identity, param: identity, bias: identity},
		}}},
	}
}

// Norm splits relevance proportionally without the bias term.
func Norm() *Rule {
	return &Rule{
		Name: "norm",
		eps:  1e-6,
		groups: []group{{scale: 1, terms: []term{
			{input: identity, param: identity},
		}}},
	}
}

// ZPlus keeps only the excitatory contributions: positive inputs through
// positive weights and negative inputs through negative weights.
func ZPlus() *Rule {
	return &Rule{
		Name: "zplus",
		eps:  1e-6,
		groups: []group{{scale: 1, terms: []term{
			{input: positive, param: positive},
			{input: negative, param: negative},
		}}},
	}
}

// AlphaBeta weights excitatory and inhibitory contributions separately.
// Relevance is conserved when alpha - beta == 1.
func AlphaBeta(alpha, beta float32) *Rule {
	return &Rule{
		Name: fmt.Sprintf("alpha%gbeta%g", alpha, beta),
		eps:  1e-6,
		groups: []group{
			{scale: alpha, terms: []term{
				{input: positive, param: positive, bias: positive},
				{input: negative, param: negative},
			}},
			{scale: -beta, terms: []term{
				{input: positive, param: negative, bias: negative},
				{input: negative, param: positive},
			}},
		},
	}
}

// Flat ignores both inputs and weights, spreading relevance uniformly
// across each unit's receptive field. Used on first layers where input
// magnitudes are not meaningful evidence.
func Flat() *Rule {
	return &Rule{
		Name: "flat",
		eps:  1e-6,
		groups: []group{{scale: 1, terms: []term{
			{input: onesLike, param: onesLike},
		}}},
	}
}

// Pass forwards relevance unchanged; for activations and reshapes.
func Pass() *Rule {
	return &Rule{Name: "pass"}
}

// layerOps adapts one parameterized layer to the passes a rule runs:
// a forward with substituted input and parameters, and the linear
// back-projection of an output-side factor onto the input.
type layerOps struct {
	weight      *tensor.RawTensor
	bias        *tensor.RawTensor // nil when the layer has none
	forward     func(x, w, b *tensor.RawTensor) *tensor.RawTensor
	backproject func(factor, w *tensor.RawTensor) *tensor.RawTensor
}

// apply propagates relevance through one layer. Per group: the modified
// pre-activations are summed and stabilized, incoming relevance is
// divided by the total, each term back-projects the quotient and gates it
// with its own modified input, and the group results are scaled and
// summed.
func (r *Rule) apply(be tensor.Backend, ops layerOps, input, relevance *tensor.RawTensor) *tensor.RawTensor {
	if len(r.groups) == 0 {
		return relevance
	}

	var result *tensor.RawTensor
	for _, g := range r.groups {
		inputs := make([]*tensor.RawTensor, len(g.terms))
		weights := make([]*tensor.RawTensor, len(g.terms))

		var z *tensor.RawTensor
		for i, t := range g.terms {
			inputs[i] = t.input(input)
			weights[i] = t.param(ops.weight)
			var bias *tensor.RawTensor
			if t.bias != nil && ops.bias != nil {
				bias = t.bias(ops.bias)
			}
			part := ops.forward(inputs[i], weights[i], bias)
			if z == nil {
				z = part
			} else {
				z = be.Add(z, part)
			}
		}

		quotient := be.Div(relevance, stabilize(z, r.eps))

		var contribution *tensor.RawTensor
		for i := range g.terms {
			part := be.Mul(inputs[i], ops.backproject(quotient, weights[i]))
			if contribution == nil {
				contribution = part
			} else {
				contribution = be.Add(contribution, part)
			}
		}
		if g.scale != 1 {
			contribution = be.MulScalar(contribution, g.scale)
		}
		if result == nil {
			result = contribution
		} else {
			result = be.Add(result, contribution)
		}
	}
	return result
}

// stabilize shifts each value away from zero by eps in its own sign
// direction, treating zero as positive.
func stabilize(z *tensor.RawTensor, eps float32) *tensor.RawTensor {
	out := z.DeepClone()
	data := out.AsFloat32()
	for i, v := range data {
		if v < 0 {
			data[i] = v - eps
		} else {
			data[i] = v + eps
		}
	}
	return out
}

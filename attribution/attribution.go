// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package attribution provides layer-wise relevance propagation for
// explaining classifier decisions.
//
// This package wraps the internal attribution implementations and provides
// a clean public API for post-hoc model explanation.
//
// Components:
//   - Gradient: the attributor, walking the layer chain in reverse
//   - Composite: maps layer kinds to propagation rules
//   - Rules: Epsilon, ZPlus, AlphaBeta, Flat, Norm, Pass
//   - Canonizers: model rewrites applied before attribution (MergeBatchNorm)
//
// Example usage:
//
//	import (
//	    "github.com/kiln-ml/kiln/attribution"
//	)
//
//	composite, err := attribution.ParseComposite("epsilon_plus_flat")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	attributor := attribution.NewGradient(backend, composite,
//	    attribution.MergeBatchNorm[B]{})
//
//	// Relevance of the predicted class for one batch
//	target, _ := attribution.OneHot(class, numClasses, batchSize, device)
//	output, relevance, err := attributor.Attribute(ctx, model, input, target)
package attribution

import (
	"context"

	"github.com/kiln-ml/kiln/internal/attribution"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Attributor

// Gradient attributes a model's decision to its input by walking the layer
// chain in reverse with the composite's rules, seeded by a one-hot output
// target.
type Gradient[B tensor.Backend] = attribution.Gradient[B]

// NewGradient creates an attributor. Canonizers are applied to the model
// before each attribution pass and detached afterwards.
//
// Example:
//
//	attributor := attribution.NewGradient(backend, composite,
//	    attribution.MergeBatchNorm[B]{})
func NewGradient[B tensor.Backend](backend B, composite *Composite, canonizers ...Canonizer[B]) *Gradient[B] {
	return attribution.NewGradient(backend, composite, canonizers...)
}

// OneHot builds a [batch, numClasses] float32 tensor with a one at the
// target class of every row, the seed for an attribution pass.
func OneHot(class, numClasses, batch int, device tensor.Device) (*tensor.RawTensor, error) {
	return attribution.OneHot(class, numClasses, batch, device)
}

// ClassRelevance aggregates one attribution pass per class label.
type ClassRelevance = attribution.ClassRelevance

// PerClassRelevance attributes every class label in turn: Outputs[c] is the
// model output under class c's canonized pass and Relevances[c] the
// batch-summed relevance map.
func PerClassRelevance[B tensor.Backend](ctx context.Context, g *Gradient[B], model *nn.Sequential[B], input *tensor.RawTensor, numClasses int) (*ClassRelevance, error) {
	return attribution.PerClassRelevance(ctx, g, model, input, numClasses)
}

// Composites

// LayerKind classifies layers for rule assignment.
type LayerKind = attribution.LayerKind

// Layer kinds.
const (
	KindDense      LayerKind = attribution.KindDense
	KindConv       LayerKind = attribution.KindConv
	KindActivation LayerKind = attribution.KindActivation
	KindPool       LayerKind = attribution.KindPool
	KindReshape    LayerKind = attribution.KindReshape
)

// Composite maps layer kinds to rules. FirstLayer, when set, overrides the
// rule for the first parameterized layer of the chain.
type Composite = attribution.Composite

// EpsilonPlusFlat attributes convolutions with ZPlus and dense layers with
// Epsilon; the first parameterized layer spreads flat.
func EpsilonPlusFlat() *Composite {
	return attribution.EpsilonPlusFlat()
}

// EpsilonAlpha2Beta1 attributes convolutions with AlphaBeta(2, 1) and dense
// layers with Epsilon; the first parameterized layer spreads flat.
func EpsilonAlpha2Beta1() *Composite {
	return attribution.EpsilonAlpha2Beta1()
}

// ParseComposite maps a composite name ("epsilon_plus_flat",
// "epsilon_alpha2_beta1") to its Composite.
func ParseComposite(name string) (*Composite, error) {
	return attribution.ParseComposite(name)
}

// Rules

// Rule is one relevance propagation rule.
type Rule = attribution.Rule

// Epsilon stabilizes the denominator with a small epsilon, the standard
// rule for dense layers.
func Epsilon(eps float32) *Rule {
	return attribution.Epsilon(eps)
}

// ZPlus propagates only through positive contributions.
func ZPlus() *Rule {
	return attribution.ZPlus()
}

// AlphaBeta weighs positive contributions by alpha and negative ones by
// beta, with alpha - beta = 1.
func AlphaBeta(alpha, beta float32) *Rule {
	return attribution.AlphaBeta(alpha, beta)
}

// Flat ignores the weights and spreads relevance uniformly over the input.
func Flat() *Rule {
	return attribution.Flat()
}

// Norm divides relevance by the plain forward denominator.
func Norm() *Rule {
	return attribution.Norm()
}

// Pass forwards relevance unchanged, the default for unmapped layer kinds.
func Pass() *Rule {
	return attribution.Pass()
}

// Canonizers

// Canonizer rewrites a model into a canonical form before attribution and
// returns a restore function undoing the rewrite.
type Canonizer[B tensor.Backend] = attribution.Canonizer[B]

// MergeBatchNorm folds BatchNorm2D layers into the preceding convolution so
// the attribution walk sees one effective linear layer.
type MergeBatchNorm[B tensor.Backend] = attribution.MergeBatchNorm[B]

package attribution

import (
	"context"
	"fmt"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/autodiff/ops"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// tapeHolder matches the recording backend wrapper. Attribution runs its
// own forward and reverse passes, so anything it would put on a gradient
// tape is noise; the tape is paused for the duration.
type tapeHolder interface {
	Tape() *autodiff.GradientTape
}

// Gradient attributes a model's decision to its input by walking the
// layer chain in reverse with the composite's rules, seeded by a one-hot
// output target.
type Gradient[B tensor.Backend] struct {
	backend    B
	composite  *Composite
	canonizers []Canonizer[B]
}

func NewGradient[B tensor.Backend](backend B, composite *Composite, canonizers ...Canonizer[B]) *Gradient[B] {
	return &Gradient[B]{backend: backend, composite: composite, canonizers: canonizers}
}

func (g *Gradient[B]) Composite() *Composite { return g.composite }

// Attribute runs input through the canonized model and propagates the
// target relevance back to the input. It returns the canonical model
// output [batch, classes] and the input-shaped attribution.
func (g *Gradient[B]) Attribute(ctx context.Context, model *nn.Sequential[B], input, target *tensor.RawTensor) (output, attribution *tensor.RawTensor, err error) {
	for _, c := range g.canonizers {
		detach, err := c.Apply(model)
		if err != nil {
			return nil, nil, err
		}
		defer detach()
	}

	var be tensor.Backend = g.backend
	if holder, ok := be.(tapeHolder); ok {
		tape := holder.Tape()
		was := tape.IsRecording()
		tape.SetRecording(false)
		defer tape.SetRecording(was)
	}

	// Forward, keeping every layer's input activation for the walk back.
	n := model.Len()
	acts := make([]*tensor.RawTensor, n+1)
	acts[0] = input
	cur := tensor.New[float32, B](input, g.backend)
	for i := 0; i < n; i++ {
		cur = model.At(i).Forward(cur)
		acts[i+1] = cur.Raw()
	}
	out := acts[n]

	if len(out.Shape()) != 2 {
		return nil, nil, fmt.Errorf("attribution: model output %v, want [batch, classes]", out.Shape())
	}
	if !target.Shape().Equal(out.Shape()) {
		return nil, nil, fmt.Errorf("attribution: target %v does not match output %v", target.Shape(), out.Shape())
	}

	firstParam := -1
	for i := 0; i < n; i++ {
		if kind, ok := kindOf[B](model.At(i)); ok && kind.parameterized() {
			firstParam = i
			break
		}
	}

	relevance := target
	for i := n - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		child := model.At(i)
		kind, ok := kindOf[B](child)
		if !ok {
			return nil, nil, fmt.Errorf("attribution: no rule for layer %T at index %d", child, i)
		}
		rule := g.composite.RuleFor(kind, i == firstParam)

		switch m := child.(type) {
		case *nn.Linear[B]:
			relevance = rule.apply(be, denseOps(be, m), acts[i], relevance)
		case *nn.Conv2D[B]:
			relevance = rule.apply(be, convOps(be, m, acts[i]), acts[i], relevance)
		case *nn.MaxPool2D[B]:
			// The proportional split of a max window is winner-take-all,
			// which is exactly the pooling gradient.
			op := ops.NewMaxPool2DOp(acts[i], acts[i+1], m.KernelSize(), m.Stride())
			relevance = op.Backward(relevance, be)[0]
		case *nn.Flatten[B]:
			relevance = be.Reshape(relevance, acts[i].Shape())
		case *nn.ReLU[B], *nn.BatchNorm2D[B]:
			// Identity under Pass; merged batch norms are identities.
		}
	}

	return out, relevance, nil
}

// kindOf classifies a module for rule lookup.
func kindOf[B tensor.Backend](m nn.Module[B]) (LayerKind, bool) {
	switch m.(type) {
	case *nn.Linear[B]:
		return KindDense, true
	case *nn.Conv2D[B]:
		return KindConv, true
	case *nn.MaxPool2D[B]:
		return KindPool, true
	case *nn.Flatten[B]:
		return KindReshape, true
	case *nn.ReLU[B], *nn.BatchNorm2D[B]:
		return KindActivation, true
	}
	return 0, false
}

// denseOps adapts a Linear layer: forward is x @ Wᵀ + b, back-projection
// multiplies the output factor by W.
func denseOps[B tensor.Backend](be tensor.Backend, layer *nn.Linear[B]) layerOps {
	lo := layerOps{
		weight: layer.Weight().Raw(),
		forward: func(x, w, b *tensor.RawTensor) *tensor.RawTensor {
			out := be.MatMul(x, be.Transpose(w))
			if b != nil {
				out = be.Add(out, be.Reshape(b, tensor.Shape{1, b.Shape()[0]}))
			}
			return out
		},
		backproject: func(factor, w *tensor.RawTensor) *tensor.RawTensor {
			return be.MatMul(factor, w)
		},
	}
	if layer.Bias() != nil {
		lo.bias = layer.Bias().Raw()
	}
	return lo
}

// convOps adapts a Conv2D layer; back-projection is the convolution's
// input gradient.
func convOps[B tensor.Backend](be tensor.Backend, layer *nn.Conv2D[B], input *tensor.RawTensor) layerOps {
	stride, padding := layer.Stride(), layer.Padding()
	lo := layerOps{
		weight: layer.Weight().Raw(),
		forward: func(x, w, b *tensor.RawTensor) *tensor.RawTensor {
			out := be.Conv2D(x, w, stride, padding)
			if b != nil {
				out = be.Add(out, be.Reshape(b, tensor.Shape{1, b.Shape()[0], 1, 1}))
			}
			return out
		},
		backproject: func(factor, w *tensor.RawTensor) *tensor.RawTensor {
			return be.Conv2DInputBackward(input, w, factor, stride, padding)
		},
	}
	if layer.Bias() != nil {
		lo.bias = layer.Bias().Raw()
	}
	return lo
}

// OneHot builds a [batch, numClasses] relevance seed selecting one class
// for every sample.
func OneHot(class, numClasses, batch int, device tensor.Device) (*tensor.RawTensor, error) {
	if numClasses <= 0 || batch <= 0 {
		return nil, fmt.Errorf("attribution: one-hot with %d classes and batch %d", numClasses, batch)
	}
	if class < 0 || class >= numClasses {
		return nil, fmt.Errorf("attribution: class %d outside [0, %d)", class, numClasses)
	}
	raw, err := tensor.NewRaw(tensor.Shape{batch, numClasses}, tensor.Float32, device)
	if err != nil {
		return nil, err
	}
	data := raw.AsFloat32()
	for b := 0; b < batch; b++ {
		data[b*numClasses+class] = 1
	}
	return raw, nil
}

// ClassRelevance holds one evaluation batch's attribution: per class, the
// canonical model output and the batch-summed input relevance map.
type ClassRelevance struct {
	Outputs    []*tensor.RawTensor // each [batch, numClasses]
	Relevances []*tensor.RawTensor // each in the input's sample shape
}

// PerClassRelevance attributes the batch once per class and sums each
// relevance map over the batch dimension.
func PerClassRelevance[B tensor.Backend](ctx context.Context, g *Gradient[B], model *nn.Sequential[B], input *tensor.RawTensor, numClasses int) (*ClassRelevance, error) {
	shape := input.Shape()
	if len(shape) == 0 {
		return nil, fmt.Errorf("attribution: empty input")
	}
	batch := shape[0]

	cr := &ClassRelevance{
		Outputs:    make([]*tensor.RawTensor, 0, numClasses),
		Relevances: make([]*tensor.RawTensor, 0, numClasses),
	}
	var be tensor.Backend = g.backend
	for class := 0; class < numClasses; class++ {
		target, err := OneHot(class, numClasses, batch, be.Device())
		if err != nil {
			return nil, err
		}
		output, attribution, err := g.Attribute(ctx, model, input, target)
		if err != nil {
			return nil, fmt.Errorf("attribution: class %d: %w", class, err)
		}
		cr.Outputs = append(cr.Outputs, output)
		cr.Relevances = append(cr.Relevances, be.SumDim(attribution, 0, false))
	}
	return cr, nil
}

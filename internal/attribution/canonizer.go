package attribution

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Canonizer rewrites a model into the canonical form a composite expects.
// Apply mutates the model's parameters in place and returns a detach
// function that restores them.
type Canonizer[B tensor.Backend] interface {
	Apply(model *nn.Sequential[B]) (detach func(), err error)
}

// MergeBatchNorm folds every BatchNorm2D into the Conv2D directly before
// it, leaving the batch norm an exact identity. The composite then sees a
// chain of canonical convolutions.
//
// The fold uses the running statistics, so the model must be in
// evaluation mode while the canonizer is attached.
type MergeBatchNorm[B tensor.Backend] struct{}

func (MergeBatchNorm[B]) Apply(model *nn.Sequential[B]) (func(), error) {
	var restores []func()
	detach := func() {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
	}

	for i := 0; i < model.Len(); i++ {
		bn, ok := model.At(i).(*nn.BatchNorm2D[B])
		if !ok {
			continue
		}
		if i == 0 {
			detach()
			return nil, fmt.Errorf("attribution: batch norm at index 0 has no layer to merge into")
		}
		conv, ok := model.At(i - 1).(*nn.Conv2D[B])
		if !ok {
			detach()
			return nil, fmt.Errorf("attribution: batch norm at index %d follows %T, want conv2d", i, model.At(i-1))
		}
		if conv.Bias() == nil {
			detach()
			return nil, fmt.Errorf("attribution: conv2d at index %d has no bias to absorb the batch norm shift", i-1)
		}
		restores = append(restores, foldBatchNorm(conv, bn))
	}
	return detach, nil
}

// foldBatchNorm scales the convolution's kernels and shifts its bias so
// conv+bn computes the same function with the bn reduced to identity.
func foldBatchNorm[B tensor.Backend](conv *nn.Conv2D[B], bn *nn.BatchNorm2D[B]) (restore func()) {
	weight := conv.Weight().Raw()
	bias := conv.Bias().Raw()
	gamma := bn.Weight().Raw()
	beta := bn.Bias().Raw()
	mean, variance := bn.RunningStats()

	saved := []*tensor.RawTensor{
		weight.DeepClone(), bias.DeepClone(),
		gamma.DeepClone(), beta.DeepClone(),
		mean.DeepClone(), variance.DeepClone(),
	}
	live := []*tensor.RawTensor{weight, bias, gamma, beta, mean, variance}

	wd, bd := weight.AsFloat32(), bias.AsFloat32()
	gd, betad := gamma.AsFloat32(), beta.AsFloat32()
	md, vd := mean.AsFloat32(), variance.AsFloat32()

	outChannels := weight.Shape()[0]
	perChannel := weight.NumElements() / outChannels
	eps := bn.Eps()
	for o := 0; o < outChannels; o++ {
		scale := gd[o] / float32(math.Sqrt(float64(vd[o]+eps)))
		for k := o * perChannel; k < (o+1)*perChannel; k++ {
			wd[k] *= scale
		}
		bd[o] = (bd[o]-md[o])*scale + betad[o]

		// (x - 0) / sqrt((1-eps) + eps) * 1 + 0 == x
		gd[o], betad[o], md[o] = 1, 0, 0
		vd[o] = 1 - eps
	}

	return func() {
		for i, dst := range live {
			copy(dst.Data(), saved[i].Data())
		}
	}
}

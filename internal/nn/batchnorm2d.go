package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// BatchNorm2D normalizes each channel of NCHW input.
//
// In training mode it normalizes with the current batch statistics and
// folds them into exponential running estimates; in evaluation mode it
// normalizes with the stored running statistics. The running buffers are
// not parameters but persist through StateDict, so a restored model
// evaluates exactly as it trained.
type BatchNorm2D[B tensor.Backend] struct {
	numFeatures int
	eps         float32
	momentum    float32
	training    bool

	gamma *Parameter[B] // scale, state-dict key "weight"
	beta  *Parameter[B] // shift, state-dict key "bias"

	runningMean *tensor.RawTensor
	runningVar  *tensor.RawTensor

	backend B
}

// NewBatchNorm2D creates a batch normalization layer with scale 1, shift 0,
// eps 1e-5 and momentum 0.1, starting in training mode.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, backend B) *BatchNorm2D[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid feature count %d", numFeatures))
	}
	mean, err := tensor.NewRaw(tensor.Shape{numFeatures}, tensor.Float32, backend.Device())
	if err != nil {
		panic(err)
	}
	variance := tensor.OnesRaw(tensor.Shape{numFeatures}, backend.Device())

	return &BatchNorm2D[B]{
		numFeatures: numFeatures,
		eps:         1e-5,
		momentum:    0.1,
		training:    true,
		gamma:       NewParameter("weight", Ones(tensor.Shape{numFeatures}, backend)),
		beta:        NewParameter("bias", Zeros(tensor.Shape{numFeatures}, backend)),
		runningMean: mean,
		runningVar:  variance,
		backend:     backend,
	}
}

// SetTraining switches between batch statistics and running statistics.
func (bn *BatchNorm2D[B]) SetTraining(training bool) { bn.training = training }

func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("batchnorm2d: expected input [batch, %d, h, w], got %v", bn.numFeatures, shape))
	}

	be := input.Backend()
	x := input.Raw()
	statShape := tensor.Shape{1, bn.numFeatures, 1, 1}

	var mean, variance *tensor.RawTensor
	if bn.training {
		// Built from recorded primitives, so the tape differentiates
		// through the batch statistics as well.
		mean = channelMean(be, x)
		diff := be.Sub(x, mean)
		variance = channelMean(be, be.Mul(diff, diff))
		bn.updateRunningStats(mean, variance, shape[0]*shape[2]*shape[3])
	} else {
		mean = be.Reshape(bn.runningMean, statShape)
		variance = be.Reshape(bn.runningVar, statShape)
	}

	denom := be.Sqrt(be.AddScalar(variance, bn.eps))
	xhat := be.Div(be.Sub(x, mean), denom)

	scale := be.Reshape(bn.gamma.Raw(), statShape)
	shift := be.Reshape(bn.beta.Raw(), statShape)
	out := be.Add(be.Mul(xhat, scale), shift)
	return tensor.New[float32, B](out, bn.backend)
}

// channelMean reduces [N, C, H, W] to per-channel means of shape
// [1, C, 1, 1] by averaging one axis at a time.
func channelMean(be tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	m := be.MeanDim(x, 0, true)
	m = be.MeanDim(m, 2, true)
	return be.MeanDim(m, 3, true)
}

// updateRunningStats folds the batch statistics into the running buffers.
// The running variance stores the unbiased estimate, matching the usual
// checkpoint convention.
func (bn *BatchNorm2D[B]) updateRunningStats(mean, variance *tensor.RawTensor, count int) {
	correction := float32(1)
	if count > 1 {
		correction = float32(count) / float32(count-1)
	}
	m := bn.momentum
	rm, rv := bn.runningMean.AsFloat32(), bn.runningVar.AsFloat32()
	bm, bv := mean.AsFloat32(), variance.AsFloat32()
	for i := range rm {
		rm[i] = (1-m)*rm[i] + m*bm[i]
		rv[i] = (1-m)*rv[i] + m*bv[i]*correction
	}
}

func (bn *BatchNorm2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.gamma, bn.beta}
}

func (bn *BatchNorm2D[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"weight":       bn.gamma.Raw(),
		"bias":         bn.beta.Raw(),
		"running_mean": bn.runningMean,
		"running_var":  bn.runningVar,
	}
}

func (bn *BatchNorm2D[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for name, dst := range map[string]*tensor.RawTensor{
		"weight":       bn.gamma.Raw(),
		"bias":         bn.beta.Raw(),
		"running_mean": bn.runningMean,
		"running_var":  bn.runningVar,
	} {
		if err := loadTensor(dst, state, name); err != nil {
			return err
		}
	}
	return nil
}

// NumFeatures returns the channel count this layer normalizes.
func (bn *BatchNorm2D[B]) NumFeatures() int { return bn.numFeatures }

// RunningStats exposes the running mean and variance buffers; the
// batch-norm canonizer folds them into the preceding convolution.
func (bn *BatchNorm2D[B]) RunningStats() (mean, variance *tensor.RawTensor) {
	return bn.runningMean, bn.runningVar
}

// Eps returns the numerical stabilizer added to the variance.
func (bn *BatchNorm2D[B]) Eps() float32 { return bn.eps }

func (bn *BatchNorm2D[B]) Weight() *Parameter[B] { return bn.gamma }
func (bn *BatchNorm2D[B]) Bias() *Parameter[B]   { return bn.beta }

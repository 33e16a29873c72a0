package ops

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// CrossEntropyOp: output = mean over the batch of -log_softmax(logits) at
// the target class.
//
// The fused backward is the reason softmax and cross-entropy are recorded
// as one node:
//
//	dLogits[b,i] = (softmax(logits[b])[i] - onehot(target[b])[i]) / batchSize
//
// Only the logits are differentiated; integer targets carry no gradient.
type CrossEntropyOp struct {
	logits  *tensor.RawTensor
	targets *tensor.RawTensor
	output  *tensor.RawTensor
}

func NewCrossEntropyOp(logits, targets, output *tensor.RawTensor) *CrossEntropyOp {
	return &CrossEntropyOp{logits: logits, targets: targets, output: output}
}

func (op *CrossEntropyOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	shape := op.logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("CrossEntropyOp: logits must be 2D, got %v", shape))
	}
	batchSize, numClasses := shape[0], shape[1]

	grad, err := tensor.NewRaw(shape, op.logits.DType(), op.logits.Device())
	if err != nil {
		panic(err)
	}

	targets := op.targets.AsInt32()
	switch op.logits.DType() {
	case tensor.Float32:
		crossEntropyGrad(grad.AsFloat32(), op.logits.AsFloat32(), targets,
			outputGrad.AsFloat32()[0], batchSize, numClasses)
	case tensor.Float64:
		crossEntropyGrad(grad.AsFloat64(), op.logits.AsFloat64(), targets,
			outputGrad.AsFloat64()[0], batchSize, numClasses)
	default:
		panic(fmt.Sprintf("CrossEntropyOp: unsupported dtype %s", op.logits.DType()))
	}
	return []*tensor.RawTensor{grad}
}

func (op *CrossEntropyOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.logits} }
func (op *CrossEntropyOp) Output() *tensor.RawTensor   { return op.output }

func crossEntropyGrad[T ~float32 | ~float64](dst, logits []T, targets []int32, gradScale T, batchSize, numClasses int) {
	probs := make([]T, numClasses)
	for b := 0; b < batchSize; b++ {
		row := logits[b*numClasses : (b+1)*numClasses]
		softmaxRow(probs, row)
		target := int(targets[b])
		for i := 0; i < numClasses; i++ {
			g := probs[i]
			if i == target {
				g -= 1
			}
			dst[b*numClasses+i] = gradScale * g / T(batchSize)
		}
	}
}

func softmaxRow[T ~float32 | ~float64](dst, row []T) {
	maxVal := row[0]
	for _, v := range row[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum T
	for i, v := range row {
		e := T(math.Exp(float64(v - maxVal)))
		dst[i] = e
		sum += e
	}
	for i := range dst {
		dst[i] /= sum
	}
}

// CrossEntropyForward computes the loss value. Exposed so callers without
// a tape (plain loss evaluation) share the same log-sum-exp arithmetic.
func CrossEntropyForward(logits, targets *tensor.RawTensor, device tensor.Device) *tensor.RawTensor {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("CrossEntropyForward: logits must be 2D, got %v", shape))
	}
	if len(targets.Shape()) != 1 || targets.Shape()[0] != shape[0] {
		panic(fmt.Sprintf("CrossEntropyForward: targets %v do not match logits %v", targets.Shape(), shape))
	}
	batchSize, numClasses := shape[0], shape[1]

	output, err := tensor.NewRaw(tensor.Shape{1}, logits.DType(), device)
	if err != nil {
		panic(err)
	}

	t := targets.AsInt32()
	switch logits.DType() {
	case tensor.Float32:
		output.AsFloat32()[0] = crossEntropyLoss(logits.AsFloat32(), t, batchSize, numClasses)
	case tensor.Float64:
		output.AsFloat64()[0] = crossEntropyLoss(logits.AsFloat64(), t, batchSize, numClasses)
	default:
		panic(fmt.Sprintf("CrossEntropyForward: unsupported dtype %s", logits.DType()))
	}
	return output
}

func crossEntropyLoss[T ~float32 | ~float64](logits []T, targets []int32, batchSize, numClasses int) T {
	var total T
	for b := 0; b < batchSize; b++ {
		row := logits[b*numClasses : (b+1)*numClasses]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		var sumExp float64
		for _, v := range row {
			sumExp += math.Exp(float64(v - maxVal))
		}
		logSumExp := float64(maxVal) + math.Log(sumExp)

		target := int(targets[b])
		if target < 0 || target >= numClasses {
			panic(fmt.Sprintf("CrossEntropyForward: target %d out of range [0, %d)", target, numClasses))
		}
		total += T(logSumExp) - row[target]
	}
	return total / T(batchSize)
}

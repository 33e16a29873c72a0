package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/kiln-ml/kiln/internal/attribution"
	"github.com/kiln-ml/kiln/internal/ctxlog"
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/distributed"
	"github.com/kiln-ml/kiln/internal/npy"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// EvalConfig parameterizes Evaluate.
type EvalConfig struct {
	// Composite names the relevance-propagation rule assignment,
	// "epsilon_plus_flat" or "epsilon_alpha2beta1".
	Composite string
	// NumClasses is how many class targets attribution iterates over per
	// batch; it must match the model's output width.
	NumClasses int
}

// Evaluate runs inference over the "test" loader in eval mode, attributes
// per-class relevance for every batch, gathers results from all ranks and
// writes the combined arrays as .npy files to the dump directory on
// rank 0, alongside a logged summary with the confusion matrix and
// confidence statistics.
//
// Files written: indices, labels and predictions as int64 vectors of the
// gathered sample count, softmax as [samples, classes], lrp_output as
// [samples, classes, classes] (model output per attribution pass), and
// relevance as [batches, classes, ...sample shape] with each map summed
// over its batch.
func (c *Classifier[B]) Evaluate(ctx context.Context, cfg EvalConfig) error {
	log := ctxlog.FromContext(ctx)
	if cfg.NumClasses <= 0 {
		return fmt.Errorf("engine: evaluation needs a positive class count, got %d", cfg.NumClasses)
	}
	testLoader, err := c.loader("test")
	if err != nil {
		return err
	}
	composite, err := attribution.ParseComposite(cfg.Composite)
	if err != nil {
		return err
	}
	attributor := attribution.NewGradient(c.backend, composite, attribution.MergeBatchNorm[B]{})

	c.model.SetTraining(false)
	testLoader.Reset()

	classes := cfg.NumClasses
	var (
		sumLoss, sumAcc float32
		iterations      int

		indices     []int64
		labels      []int64
		predictions []int64
		softmax     []float32
		lrpOutputs  []float32
		relevance   []float32

		relevanceShape tensor.Shape
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := testLoader.Next()
		if errors.Is(err, data.ErrExhausted) {
			break
		}
		if err != nil {
			return err
		}

		res := c.Forward(batch, false)
		sumLoss += res.Loss
		sumAcc += res.Accuracy
		iterations++

		indices = append(indices, batch.Indices...)
		for _, l := range batch.Labels.AsInt32() {
			labels = append(labels, int64(l))
		}
		for _, p := range res.PredictedLabels.AsInt32() {
			predictions = append(predictions, int64(p))
		}
		softmax = append(softmax, res.Softmax.AsFloat32()...)

		rel, err := attribution.PerClassRelevance(ctx, attributor, c.model.Layers(), batch.Data, classes)
		if err != nil {
			return err
		}
		lrpOutputs = append(lrpOutputs, interleaveOutputs(rel.Outputs, batch.Size, classes)...)
		if relevanceShape == nil {
			relevanceShape = append(tensor.Shape{classes}, rel.Relevances[0].Shape()...)
		}
		for _, r := range rel.Relevances {
			relevance = append(relevance, r.AsFloat32()...)
		}

		log.Info("evaluation batch",
			"iteration", iterations, "loss", res.Loss, "accuracy", res.Accuracy)
	}
	if iterations == 0 {
		return errors.New("engine: test loader produced no batches")
	}

	// Every rank runs the collectives in the same order.
	metrics, err := distributed.SyncedMetrics(ctx, c.group, map[string][]float32{
		"accuracy":   {sumAcc},
		"iterations": {float32(iterations)},
		"loss":       {sumLoss},
	})
	if err != nil {
		return err
	}
	allIndices, err := gatherInt64(ctx, c.group, "eval_indices", indices)
	if err != nil {
		return err
	}
	allLabels, err := gatherInt64(ctx, c.group, "eval_labels", labels)
	if err != nil {
		return err
	}
	allPredictions, err := gatherInt64(ctx, c.group, "eval_predictions", predictions)
	if err != nil {
		return err
	}
	allSoftmax, err := gatherFloat32(ctx, c.group, "eval_softmax", softmax)
	if err != nil {
		return err
	}
	allOutputs, err := gatherFloat32(ctx, c.group, "eval_lrp_output", lrpOutputs)
	if err != nil {
		return err
	}
	allRelevance, err := gatherFloat32(ctx, c.group, "eval_relevance", relevance)
	if err != nil {
		return err
	}
	if c.rank != 0 {
		return nil
	}

	if err := c.writeEvalArrays(classes, relevanceShape,
		allIndices, allLabels, allPredictions,
		allSoftmax, allOutputs, allRelevance); err != nil {
		return err
	}

	totalIterations := sum32(metrics["iterations"])
	log.Info("evaluation finished",
		"loss", sum32(metrics["loss"])/totalIterations,
		"accuracy", sum32(metrics["accuracy"])/totalIterations,
		"iterations", int(totalIterations))
	logEvalSummary(log, allLabels, allPredictions, allSoftmax, classes)
	return nil
}

func gatherInt64(ctx context.Context, g distributed.Group, name string, local []int64) ([]int64, error) {
	parts, err := g.AllGatherInt64(ctx, name, local)
	if err != nil {
		return nil, err
	}
	return concat(parts), nil
}

func gatherFloat32(ctx context.Context, g distributed.Group, name string, local []float32) ([]float32, error) {
	parts, err := g.AllGatherFloat32(ctx, name, local)
	if err != nil {
		return nil, err
	}
	return concat(parts), nil
}

// interleaveOutputs reorders per-class output tensors into one
// [batch, class pass, classes] block so batches and ranks concatenate
// along the sample dimension.
func interleaveOutputs(outputs []*tensor.RawTensor, batchSize, classes int) []float32 {
	out := make([]float32, 0, batchSize*len(outputs)*classes)
	for row := 0; row < batchSize; row++ {
		for _, classOut := range outputs {
			vals := classOut.AsFloat32()
			out = append(out, vals[row*classes:(row+1)*classes]...)
		}
	}
	return out
}

func (c *Classifier[B]) writeEvalArrays(classes int, relevanceShape tensor.Shape, indices, labels, predictions []int64, softmax, lrpOutputs, relevance []float32) error {
	total := len(indices)
	if len(labels) != total || len(predictions) != total {
		return fmt.Errorf("engine: gathered %d indices, %d labels, %d predictions", total, len(labels), len(predictions))
	}
	if len(softmax) != total*classes {
		return fmt.Errorf("engine: gathered %d softmax values for %d samples of %d classes", len(softmax), total, classes)
	}
	if len(lrpOutputs) != total*classes*classes {
		return fmt.Errorf("engine: gathered %d attribution outputs for %d samples of %d classes", len(lrpOutputs), total, classes)
	}
	perBatch := relevanceShape.NumElements()
	if perBatch <= 0 || len(relevance)%perBatch != 0 {
		return fmt.Errorf("engine: gathered %d relevance values, not a multiple of %v", len(relevance), relevanceShape)
	}
	batches := len(relevance) / perBatch

	arrays := []struct {
		name  string
		build func() (*tensor.RawTensor, error)
	}{
		{"indices.npy", func() (*tensor.RawTensor, error) {
			return rawInt64(indices, tensor.Shape{total})
		}},
		{"labels.npy", func() (*tensor.RawTensor, error) {
			return rawInt64(labels, tensor.Shape{total})
		}},
		{"predictions.npy", func() (*tensor.RawTensor, error) {
			return rawInt64(predictions, tensor.Shape{total})
		}},
		{"softmax.npy", func() (*tensor.RawTensor, error) {
			return rawFloat32(softmax, tensor.Shape{total, classes})
		}},
		{"lrp_output.npy", func() (*tensor.RawTensor, error) {
			return rawFloat32(lrpOutputs, tensor.Shape{total, classes, classes})
		}},
		{"relevance.npy", func() (*tensor.RawTensor, error) {
			return rawFloat32(relevance, append(tensor.Shape{batches}, relevanceShape...))
		}},
	}
	for _, a := range arrays {
		raw, err := a.build()
		if err != nil {
			return err
		}
		if err := npy.Write(filepath.Join(c.dumpDir, a.name), raw); err != nil {
			return fmt.Errorf("engine: writing %s: %w", a.name, err)
		}
	}
	return nil
}

// logEvalSummary logs the confusion matrix (rows true, columns predicted)
// and the mean and spread of the winning-class softmax confidence.
func logEvalSummary(log *slog.Logger, labels, predictions []int64, softmax []float32, classes int) {
	confusion := mat.NewDense(classes, classes, nil)
	confidence := make([]float64, 0, len(labels))
	correct := 0
	for i := range labels {
		truth, pred := int(labels[i]), int(predictions[i])
		if truth < 0 || truth >= classes || pred < 0 || pred >= classes {
			continue
		}
		confusion.Set(truth, pred, confusion.At(truth, pred)+1)
		confidence = append(confidence, float64(softmax[i*classes+pred]))
		if truth == pred {
			correct++
		}
	}
	if len(confidence) == 0 {
		return
	}

	log.Info("evaluation summary",
		"samples", len(labels),
		"accuracy", float64(correct)/float64(len(labels)),
		"mean_confidence", stat.Mean(confidence, nil),
		"stddev_confidence", stat.StdDev(confidence, nil))
	log.Info("confusion matrix",
		"rows_true_cols_predicted", fmt.Sprintf("%v", mat.Formatted(confusion)))
}

func concat[T any](parts [][]T) []T {
	var out []T
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func sum32(values []float32) float32 {
	var sum float32
	for _, v := range values {
		sum += v
	}
	return sum
}

func rawFloat32(values []float32, shape tensor.Shape) (*tensor.RawTensor, error) {
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	copy(raw.AsFloat32(), values)
	return raw, nil
}

func rawInt64(values []int64, shape tensor.Shape) (*tensor.RawTensor, error) {
	raw, err := tensor.NewRaw(shape, tensor.Int64, tensor.CPU)
	if err != nil {
		return nil, err
	}
	copy(raw.AsInt64(), values)
	return raw, nil
}

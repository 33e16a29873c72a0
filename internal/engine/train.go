package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiln-ml/kiln/internal/ctxlog"
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/distributed"
	"github.com/kiln-ml/kiln/internal/records"
)

// TrainConfig is the training schedule.
type TrainConfig struct {
	// Epochs is the number of passes over the training loader.
	Epochs int
	// ReportInterval is how often, in iterations, rank 0 logs progress.
	ReportInterval int
	// ValInterval is how often, in iterations, a validation pass runs.
	// Iteration 0 validates, so every run starts with an untrained
	// baseline.
	ValInterval int
	// NumValBatches is how many validation batches each pass consumes.
	NumValBatches int
	// Checkpointing saves the latest state after every validation pass.
	Checkpointing bool
	// SaveInterval, when positive, saves an "_epoch_N" checkpoint every
	// N epochs.
	SaveInterval int
}

func (cfg TrainConfig) validate() error {
	if cfg.Epochs <= 0 {
		return fmt.Errorf("engine: epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.ReportInterval <= 0 {
		return fmt.Errorf("engine: report interval must be positive, got %d", cfg.ReportInterval)
	}
	if cfg.ValInterval <= 0 {
		return fmt.Errorf("engine: validation interval must be positive, got %d", cfg.ValInterval)
	}
	if cfg.NumValBatches <= 0 {
		return fmt.Errorf("engine: validation batch count must be positive, got %d", cfg.NumValBatches)
	}
	if cfg.SaveInterval < 0 {
		return fmt.Errorf("engine: save interval must not be negative, got %d", cfg.SaveInterval)
	}
	return nil
}

// Train runs the training loop over the "train" loader: forward, backward
// and optimizer step per batch, a validation pass every ValInterval
// iterations, per-iteration rows in the rank's training CSV, an optional
// scheduler step and checkpoint per epoch. The CSV logs are closed when
// the loop finishes.
func (c *Classifier[B]) Train(ctx context.Context, cfg TrainConfig) error {
	log := ctxlog.FromContext(ctx)
	if err := cfg.validate(); err != nil {
		return err
	}
	if c.optimizer == nil {
		return errors.New("engine: optimizer not configured")
	}
	trainLoader, err := c.loader("train")
	if err != nil {
		return err
	}
	valLoader, err := c.loader("validation")
	if err != nil {
		return err
	}

	c.iteration = 0
	c.bestValLoss = bestLossCeiling
	c.model.SetTraining(true)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		c.epoch = epoch
		if c.rank == 0 {
			log.Info("epoch starting",
				"epoch", epoch+1, "epochs", cfg.Epochs, "lr", c.optimizer.GetLR())
		}
		trainLoader.SetEpoch(epoch)
		trainLoader.Reset()
		c.step = 0

		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := trainLoader.Next()
			if errors.Is(err, data.ErrExhausted) {
				break
			}
			if err != nil {
				return err
			}

			// Validation runs before the batch so the schedule lines up
			// across ranks regardless of the batch outcome.
			if c.iteration%int64(cfg.ValInterval) == 0 {
				if err := c.Validate(ctx, valLoader, cfg.NumValBatches, cfg.Checkpointing); err != nil {
					return err
				}
			}

			res := c.Forward(batch, true)
			if err := c.Backward(); err != nil {
				return err
			}
			c.step++
			c.iteration++

			if err := c.trainLog.Append(records.Row{
				{Name: "iteration", Value: c.iteration},
				{Name: "epoch", Value: epoch},
				{Name: "loss", Value: res.Loss},
				{Name: "accuracy", Value: res.Accuracy},
			}); err != nil {
				return err
			}

			if c.rank == 0 && c.iteration%int64(cfg.ReportInterval) == 0 {
				log.Info("training",
					"iteration", c.iteration, "epoch", epoch+1,
					"step", c.step, "steps", trainLoader.NumBatches(),
					"loss", res.Loss, "accuracy", res.Accuracy)
			}
		}

		if c.scheduler != nil {
			c.scheduler.Step()
			if c.rank == 0 {
				log.Debug("scheduler stepped", "epoch", epoch+1, "lr", c.scheduler.LastLR())
			}
		}
		if c.rank == 0 && cfg.SaveInterval > 0 && (epoch+1)%cfg.SaveInterval == 0 {
			path, err := c.SaveState(fmt.Sprintf("_epoch_%d", epoch+1))
			if err != nil {
				return err
			}
			log.Info("saved epoch checkpoint", "path", path)
		}
	}
	return c.Close()
}

// Validate runs numBatches validation batches in eval mode, synchronizes
// the mean loss and accuracy across the group, and on rank 0 tracks the
// best loss (saving a BEST checkpoint when it improves), optionally saves
// the latest state, and appends a row to the validation CSV. The
// validation loader rewinds transparently when it runs out of batches.
func (c *Classifier[B]) Validate(ctx context.Context, val *data.Loader, numBatches int, checkpointing bool) error {
	log := ctxlog.FromContext(ctx)
	if numBatches <= 0 {
		return fmt.Errorf("engine: validation batch count must be positive, got %d", numBatches)
	}
	c.model.SetTraining(false)
	defer c.model.SetTraining(true)

	var sumLoss, sumAcc float32
	for i := 0; i < numBatches; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := val.Next()
		if errors.Is(err, data.ErrExhausted) {
			log.Debug("validation loader exhausted, rewinding")
			val.Reset()
			if batch, err = val.Next(); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		res := c.Forward(batch, false)
		sumLoss += res.Loss
		sumAcc += res.Accuracy
	}

	n := float32(numBatches)
	metrics, err := distributed.SyncedMetrics(ctx, c.group, map[string][]float32{
		"accuracy": {sumAcc / n},
		"loss":     {sumLoss / n},
	})
	if err != nil {
		return err
	}
	if c.rank != 0 {
		return nil
	}

	loss := mean32(metrics["loss"])
	accuracy := mean32(metrics["accuracy"])

	savedBest := 0
	if loss < c.bestValLoss {
		c.bestValLoss = loss
		savedBest = 1
		path, err := c.SaveState("BEST")
		if err != nil {
			return err
		}
		log.Info("new best validation loss",
			"iteration", c.iteration, "loss", loss, "accuracy", accuracy, "path", path)
	}
	if checkpointing {
		if _, err := c.SaveState(""); err != nil {
			return err
		}
	}

	return c.valLog.Append(records.Row{
		{Name: "iteration", Value: c.iteration},
		{Name: "epoch", Value: c.epoch},
		{Name: "loss", Value: loss},
		{Name: "accuracy", Value: accuracy},
		{Name: "saved_best", Value: savedBest},
	})
}

func mean32(values []float32) float32 {
	var sum float32
	for _, v := range values {
		sum += v
	}
	return sum / float32(len(values))
}

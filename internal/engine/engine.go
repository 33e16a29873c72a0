// Package engine orchestrates supervised classification runs: it owns the
// model, optimizer, scheduler and data loaders, drives the training loop
// with periodic validation, checkpoints best and latest states, and runs
// evaluation with per-class relevance attribution.
//
// One Classifier serves one process. In a data-parallel launch every rank
// builds its own Classifier over the same configuration and the engine
// synchronizes metrics and evaluation results through the process group.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/distributed"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/records"
	"github.com/kiln-ml/kiln/internal/serialization"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// bestLossCeiling is the initial best validation loss; any real loss beats
// it.
const bestLossCeiling float32 = 1e10

// Backend is what the engine needs from its tensor backend: the full op
// set with every differentiable op recorded on a gradient tape.
type Backend interface {
	tensor.Backend
	Tape() *autodiff.GradientTape
}

// Model is what the engine trains: a named module whose layer chain is
// visible for attribution and whose train/eval mode can be switched.
type Model[B tensor.Backend] interface {
	nn.Module[B]
	Name() string
	Layers() *nn.Sequential[B]
	SetTraining(training bool)
}

// Options configures a Classifier.
type Options struct {
	// DumpDir receives checkpoints, CSV logs and evaluation arrays.
	DumpDir string
	// LabelSet remaps raw dataset labels to 0..N-1 by position; empty
	// means labels are already 0..N-1.
	LabelSet []int32
	// Group is the process group; nil means a single-process run.
	Group distributed.Group
	// Seed drives the train/validation split and the samplers.
	Seed int64
}

// Classifier drives training and evaluation of one classification model.
type Classifier[B Backend] struct {
	model   Model[B]
	backend B
	loss    *nn.CrossEntropyLoss[B]

	optimizer optim.Optimizer
	scheduler optim.Scheduler
	loaders   map[string]*data.Loader

	group distributed.Group
	rank  int

	dumpDir  string
	labelSet []int32
	seed     int64

	epoch       int
	step        int
	iteration   int64
	bestValLoss float32

	// lastLoss seeds the next Backward; set by Forward.
	lastLoss *tensor.RawTensor

	trainLog *records.CSV
	valLog   *records.CSV
}

// New creates the dump directory and prepares the engine's CSV logs: a
// per-rank training log and, on rank 0 only, the validation log. The log
// files are written once rows arrive, so an evaluation-only run leaves a
// previous training run's logs in place.
func New[B Backend](model Model[B], backend B, opts Options) (*Classifier[B], error) {
	if model == nil {
		return nil, errors.New("engine: model is required")
	}
	if opts.DumpDir == "" {
		return nil, errors.New("engine: dump directory is required")
	}
	group := opts.Group
	if group == nil {
		group = distributed.SingleProcess{}
	}
	if err := os.MkdirAll(opts.DumpDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating dump directory: %w", err)
	}

	rank := group.Rank()
	trainLog := records.Create(filepath.Join(opts.DumpDir, fmt.Sprintf("log_train_%d.csv", rank)))
	var valLog *records.CSV
	if rank == 0 {
		valLog = records.Create(filepath.Join(opts.DumpDir, "log_val.csv"))
	}

	return &Classifier[B]{
		model:       model,
		backend:     backend,
		loss:        nn.NewCrossEntropyLoss(backend),
		loaders:     make(map[string]*data.Loader),
		group:       group,
		rank:        rank,
		dumpDir:     opts.DumpDir,
		labelSet:    opts.LabelSet,
		seed:        opts.Seed,
		bestValLoss: bestLossCeiling,
		trainLog:    trainLog,
		valLog:      valLog,
	}, nil
}

// Rank is this process's position in the group.
func (c *Classifier[B]) Rank() int { return c.rank }

// Iteration is the global training iteration, restored from checkpoints.
func (c *Classifier[B]) Iteration() int64 { return c.iteration }

// BestValidationLoss is the lowest synchronized mean validation loss seen
// so far.
func (c *Classifier[B]) BestValidationLoss() float32 { return c.bestValLoss }

func (c *Classifier[B]) loader(name string) (*data.Loader, error) {
	l, ok := c.loaders[name]
	if !ok {
		return nil, fmt.Errorf("engine: loader %q not configured", name)
	}
	return l, nil
}

// Close flushes and closes the CSV logs. Safe to call more than once.
func (c *Classifier[B]) Close() error {
	var first error
	if c.trainLog != nil {
		if err := c.trainLog.Close(); err != nil {
			first = err
		}
		c.trainLog = nil
	}
	if c.valLog != nil {
		if err := c.valLog.Close(); err != nil && first == nil {
			first = err
		}
		c.valLog = nil
	}
	return first
}

// SaveState writes a checkpoint to {dump}/{model name}{suffix}.kiln with
// the iteration counter, model state and, when configured, optimizer
// state. The suffix is "BEST" for best-validation checkpoints,
// "_epoch_N" for interval checkpoints and empty for the latest.
func (c *Classifier[B]) SaveState(suffix string) (string, error) {
	path := filepath.Join(c.dumpDir, c.model.Name()+suffix+".kiln")
	ckpt := serialization.Checkpoint{
		ModelName:  c.model.Name(),
		GlobalStep: c.iteration,
		Epoch:      c.epoch,
		ModelState: c.model.StateDict(),
	}
	if c.optimizer != nil {
		ckpt.OptimizerState = c.optimizer.StateDict()
	}
	if err := serialization.SaveCheckpoint(path, ckpt); err != nil {
		return "", fmt.Errorf("engine: saving checkpoint: %w", err)
	}
	return path, nil
}

// RestoreState loads a checkpoint's model weights, optimizer state (when
// both sides have one) and iteration counter.
func (c *Classifier[B]) RestoreState(path string) error {
	ckpt, err := serialization.LoadCheckpoint(path, c.backend.Device())
	if err != nil {
		return fmt.Errorf("engine: loading checkpoint: %w", err)
	}
	if err := c.model.LoadStateDict(ckpt.ModelState); err != nil {
		return fmt.Errorf("engine: restoring model state: %w", err)
	}
	if c.optimizer != nil && len(ckpt.OptimizerState) > 0 {
		if err := c.optimizer.LoadStateDict(ckpt.OptimizerState); err != nil {
			return fmt.Errorf("engine: restoring optimizer state: %w", err)
		}
	}
	c.iteration = ckpt.GlobalStep
	c.epoch = ckpt.Epoch
	return nil
}

// RestoreBestState loads the best-validation checkpoint from the dump
// directory.
func (c *Classifier[B]) RestoreBestState() error {
	return c.RestoreState(filepath.Join(c.dumpDir, c.model.Name()+"BEST.kiln"))
}

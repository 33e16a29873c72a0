// Package main provides the kiln command line: training, evaluation and
// checkpoint inspection for the built-in convolutional classifier.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/ctxlog"
	"github.com/kiln-ml/kiln/internal/distributed"
	"github.com/kiln-ml/kiln/internal/engine"
	"github.com/kiln-ml/kiln/internal/models"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/serialization"
)

const version = "v0.3.0"

const usage = `kiln - a supervised classification engine

Usage:
  kiln train -config run.hcl
  kiln evaluate -config run.hcl [-weights path.kiln]
  kiln info -checkpoint path.kiln
  kiln version

The run file is HCL; examples/mnist carries a complete one. KILN_RANK,
KILN_WORLD_SIZE and KILN_COORDINATOR override its distributed block so a
single file serves every rank of a launch.
`

// ExitError carries the process exit code alongside the message.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

func main() {
	// Minimal logger until the run file configures the real one.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run dispatches the subcommands; separate from main so tests can drive it.
func run(stdout io.Writer, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return nil
	}
	switch args[0] {
	case "train":
		return runTrain(stdout, args[1:])
	case "evaluate":
		return runEvaluate(stdout, args[1:])
	case "info":
		return runInfo(stdout, args[1:])
	case "version":
		fmt.Fprintf(stdout, "kiln %s\n", version)
		return nil
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return &ExitError{Code: 2, Message: fmt.Sprintf("kiln: unknown command %q (run \"kiln help\")", args[0])}
	}
}

func runTrain(stdout io.Writer, args []string) error {
	fs := flag.NewFlagSet("kiln train", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() {
		fmt.Fprint(stdout, "Usage: kiln train -config run.hcl\n\nOptions:\n")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "path to the HCL run file")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, "train")
	if err != nil {
		return err
	}
	if cfg.Optimizer == nil {
		return &ExitError{Code: 2, Message: "kiln train: the run file has no optimizer block"}
	}
	if cfg.Training == nil {
		return &ExitError{Code: 2, Message: "kiln train: the run file has no training block"}
	}

	return withGroup(cfg, func(ctx context.Context, group distributed.Group) error {
		return launch(ctx, cfg, group, runParams{train: true})
	})
}

func runEvaluate(stdout io.Writer, args []string) error {
	fs := flag.NewFlagSet("kiln evaluate", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() {
		fmt.Fprint(stdout, "Usage: kiln evaluate -config run.hcl [-weights path.kiln]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "path to the HCL run file")
	weights := fs.String("weights", "", "checkpoint to evaluate (default: the run's best checkpoint)")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, "evaluate")
	if err != nil {
		return err
	}

	return withGroup(cfg, func(ctx context.Context, group distributed.Group) error {
		return launch(ctx, cfg, group, runParams{weights: *weights})
	})
}

func runInfo(stdout io.Writer, args []string) error {
	fs := flag.NewFlagSet("kiln info", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() {
		fmt.Fprint(stdout, "Usage: kiln info -checkpoint path.kiln\n\nOptions:\n")
		fs.PrintDefaults()
	}
	path := fs.String("checkpoint", "", "path to a .kiln checkpoint")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if *path == "" {
		return &ExitError{Code: 2, Message: "kiln info: -checkpoint is required"}
	}

	r, err := serialization.Open(*path)
	if err != nil {
		return err
	}
	defer r.Close()

	h := r.Header()
	fmt.Fprintf(stdout, "file:    %s\n", *path)
	fmt.Fprintf(stdout, "model:   %s\n", h.ModelName)
	fmt.Fprintf(stdout, "format:  v%d (kiln %s)\n", h.FormatVersion, h.KilnVersion)
	fmt.Fprintf(stdout, "created: %s\n", h.CreatedAt.Format(time.RFC3339))
	if h.Checkpoint != nil {
		fmt.Fprintf(stdout, "step:    %d\n", h.Checkpoint.GlobalStep)
		fmt.Fprintf(stdout, "epoch:   %d\n", h.Checkpoint.Epoch)
	}

	fmt.Fprintf(stdout, "\n%-44s %-8s %s\n", "TENSOR", "DTYPE", "SHAPE")
	var elements int64
	for _, meta := range h.Tensors {
		fmt.Fprintf(stdout, "%-44s %-8s %v\n", meta.Name, meta.DType, meta.Shape)
		n := int64(1)
		for _, dim := range meta.Shape {
			n *= int64(dim)
		}
		elements += n
	}
	fmt.Fprintf(stdout, "\n%d tensors, %d elements\n", len(h.Tensors), elements)
	return nil
}

// parseFlags parses args, mapping -h to a clean exit and any other flag
// error to exit code 2.
func parseFlags(fs *flag.FlagSet, args []string) (done bool, err error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return false, &ExitError{Code: 2, Message: err.Error()}
	}
	return false, nil
}

func loadConfig(path, command string) (*config.File, error) {
	if path == "" {
		return nil, &ExitError{Code: 2, Message: fmt.Sprintf("kiln %s: -config is required", command)}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}
	return cfg, nil
}

// withGroup builds the logger and process group the run file describes,
// hands a ready context to fn and closes the group afterwards.
func withGroup(cfg *config.File, fn func(context.Context, distributed.Group) error) error {
	dcfg := distributed.Config{WorldSize: 1}
	if cfg.Distributed != nil {
		dcfg = distributed.Config{
			WorldSize:   cfg.Distributed.WorldSize,
			Rank:        cfg.Distributed.Rank,
			Coordinator: cfg.Distributed.Coordinator,
		}
	}
	dcfg, err := dcfg.WithEnvOverrides()
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	if err := dcfg.Validate(); err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}

	ctx := context.Background()
	group, err := distributed.New(ctx, dcfg)
	if err != nil {
		return err
	}
	defer group.Close()

	log := ctxlog.NewLogger(cfg.Run.LogLevel, cfg.Run.LogFormat, os.Stderr).With("rank", group.Rank())
	slog.SetDefault(log)
	log.Info("run starting",
		"world_size", group.WorldSize(), "device", cfg.Run.Device, "dump_dir", cfg.Run.DumpDir)

	return fn(ctxlog.WithLogger(ctx, log), group)
}

// runParams selects what a launched run does once the classifier is wired.
type runParams struct {
	// train runs the training loop; false runs evaluation.
	train bool
	// weights is the checkpoint evaluation restores; empty means the best
	// checkpoint in the dump directory when one exists.
	weights string
}

// launch drives the run on the backend the run file asks for. When the
// GPU backend cannot be built the run falls back to the CPU.
func launch(ctx context.Context, cfg *config.File, group distributed.Group, p runParams) error {
	if cfg.Run.Device == "gpu" {
		ran, err := launchGPU(ctx, cfg, group, p)
		if ran {
			return err
		}
		ctxlog.FromContext(ctx).Warn("gpu backend unavailable, falling back to cpu", "reason", err)
	}
	return drive(ctx, cfg, group, autodiff.New(cpu.New()), p)
}

// drive seeds weight init, builds the model and classifier over the given
// backend and runs the requested command.
func drive[B engine.Backend](ctx context.Context, cfg *config.File, group distributed.Group, backend B, p runParams) error {
	nn.Seed(cfg.Run.Seed)
	model, err := models.NewConvNet(*cfg.Model, backend)
	if err != nil {
		return err
	}
	clf, err := engine.New(model, backend, engine.Options{
		DumpDir:  cfg.Run.DumpDir,
		LabelSet: cfg.Run.LabelSet,
		Group:    group,
		Seed:     cfg.Run.Seed,
	})
	if err != nil {
		return err
	}
	defer clf.Close()

	if err := clf.ConfigureDataLoaders(*cfg.Data, cfg.Loaders, cfg.Run.Seed); err != nil {
		return err
	}

	if p.train {
		if err := clf.ConfigureOptimizer(*cfg.Optimizer); err != nil {
			return err
		}
		if cfg.Scheduler != nil {
			if err := clf.ConfigureScheduler(*cfg.Scheduler); err != nil {
				return err
			}
		}
		return clf.Train(ctx, engine.TrainConfig{
			Epochs:         cfg.Training.Epochs,
			ReportInterval: cfg.Training.ReportInterval,
			ValInterval:    cfg.Training.ValInterval,
			NumValBatches:  cfg.Training.NumValBatches,
			Checkpointing:  cfg.Training.Checkpointing,
			SaveInterval:   cfg.Training.SaveInterval,
		})
	}

	if err := restoreWeights(ctx, clf, p.weights); err != nil {
		return err
	}
	composite := ""
	if cfg.Evaluation != nil {
		composite = cfg.Evaluation.Composite
	}
	if composite == "" {
		composite = "epsilon_plus_flat"
	}
	return clf.Evaluate(ctx, engine.EvalConfig{
		Composite:  composite,
		NumClasses: cfg.Model.Classes,
	})
}

// restoreWeights loads the named checkpoint, or the best one from the dump
// directory when path is empty. A missing best checkpoint is not an error;
// evaluation then runs on freshly initialized weights.
func restoreWeights[B engine.Backend](ctx context.Context, clf *engine.Classifier[B], path string) error {
	log := ctxlog.FromContext(ctx)
	if path != "" {
		if err := clf.RestoreState(path); err != nil {
			return err
		}
		log.Info("restored checkpoint", "path", path, "iteration", clf.Iteration())
		return nil
	}
	if err := clf.RestoreBestState(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("no best checkpoint in the dump directory, evaluating fresh weights")
			return nil
		}
		return err
	}
	log.Info("restored best checkpoint", "iteration", clf.Iteration())
	return nil
}

// Copyright 2026 Kiln ML Engine. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package engine provides the supervised classification engine: it owns
// the model, optimizer, scheduler and data loaders, drives the training
// loop with periodic validation, checkpoints best and latest states, and
// runs evaluation with per-class relevance attribution.
//
// This package wraps the internal engine implementation and provides a
// clean public API for training runs.
//
// One Classifier serves one process. In a data-parallel launch every rank
// builds its own Classifier over the same configuration and the engine
// synchronizes metrics and evaluation results through the process group.
//
// Example usage:
//
//	import (
//	    "github.com/kiln-ml/kiln/autodiff"
//	    "github.com/kiln-ml/kiln/backend/cpu"
//	    "github.com/kiln-ml/kiln/engine"
//	)
//
//	backend := autodiff.New(cpu.New())
//	clf, err := engine.New[*autodiff.Backend[*cpu.Backend]](model, backend, engine.Options{
//	    DumpDir: "runs/mnist",
//	    Seed:    42,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer clf.Close()
//
//	// Wire optimizer, scheduler and loaders from configuration
//	if err := clf.ConfigureOptimizer(cfg.Optimizer); err != nil {
//	    log.Fatal(err)
//	}
//	if err := clf.ConfigureDataLoaders(cfg.Data, cfg.Loaders, cfg.Run.Seed); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Train, then evaluate the best checkpoint
//	if err := clf.Train(ctx, engine.TrainConfig{
//	    Epochs:         10,
//	    ReportInterval: 100,
//	    ValInterval:    500,
//	    NumValBatches:  32,
//	    Checkpointing:  true,
//	}); err != nil {
//	    log.Fatal(err)
//	}
package engine

import (
	"context"

	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/distributed"
	"github.com/kiln-ml/kiln/internal/engine"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Core types

// Backend is what the engine needs from its tensor backend: the full op
// set with every differentiable op recorded on a gradient tape. The
// autodiff decorator over any compute backend satisfies it.
type Backend = engine.Backend

// Model is what the engine trains: a named module whose layer chain is
// visible for attribution and whose train/eval mode can be switched.
type Model[B tensor.Backend] = engine.Model[B]

// Options configures a Classifier.
type Options = engine.Options

// Classifier drives training and evaluation of one classification model.
type Classifier[B Backend] = engine.Classifier[B]

// New creates a classifier: it creates the dump directory and opens the
// engine's CSV logs, a per-rank training log and, on rank 0 only, the
// validation log.
func New[B Backend](model Model[B], backend B, opts Options) (*Classifier[B], error) {
	return engine.New(model, backend, opts)
}

// Run configuration

// TrainConfig is the training schedule.
type TrainConfig = engine.TrainConfig

// EvalConfig configures an evaluation run.
type EvalConfig = engine.EvalConfig

// Result carries the outputs of one forward pass.
type Result = engine.Result

// Component configuration
//
// The Configure methods take the corresponding blocks of a parsed run
// configuration file; the aliases below expose those block types.

// OptimizerConfig selects and parameterizes the optimizer.
type OptimizerConfig = config.Optimizer

// SchedulerConfig selects and parameterizes the learning rate schedule.
type SchedulerConfig = config.Scheduler

// DataConfig names the dataset files and the validation split.
type DataConfig = config.Data

// LoaderConfig describes one named loader (train, validation, test).
type LoaderConfig = config.Loader

// Process groups

// Group is the collective-communication surface the engine synchronizes
// through: all-gather for metrics and evaluation arrays plus a barrier.
type Group = distributed.Group

// SingleProcess is the no-op group for single-process runs; a nil
// Options.Group means the same thing.
type SingleProcess = distributed.SingleProcess

// GroupConfig describes a process group: the process's rank, the world
// size and the coordinator address ranks rendezvous through.
type GroupConfig = distributed.Config

// NewGroup connects a process group. World size one yields a
// SingleProcess group without any networking.
//
// Example:
//
//	group, err := engine.NewGroup(ctx, engine.GroupConfig{
//	    Rank:        0,
//	    WorldSize:   2,
//	    Coordinator: "127.0.0.1:29500",
//	})
func NewGroup(ctx context.Context, cfg GroupConfig) (Group, error) {
	return distributed.New(ctx, cfg)
}

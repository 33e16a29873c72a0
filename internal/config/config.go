// Package config loads the HCL run file that describes a training or
// evaluation run: model architecture, optimizer, scheduler, data sources,
// loaders, training schedule, evaluation composite and distributed layout.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// File is the decoded form of one run file. Blocks other than run, model
// and data are optional; which ones a command needs depends on whether it
// trains or evaluates.
type File struct {
	Run         *Run         `hcl:"run,block"`
	Model       *Model       `hcl:"model,block"`
	Optimizer   *Optimizer   `hcl:"optimizer,block"`
	Scheduler   *Scheduler   `hcl:"scheduler,block"`
	Data        *Data        `hcl:"data,block"`
	Loaders     []Loader     `hcl:"loader,block"`
	Training    *Training    `hcl:"training,block"`
	Evaluation  *Evaluation  `hcl:"evaluation,block"`
	Distributed *Distributed `hcl:"distributed,block"`
}

// Run holds run-wide settings.
type Run struct {
	DumpDir string `hcl:"dump_dir"`
	// Device selects the backend: "cpu" (default) or "gpu".
	Device string `hcl:"device,optional"`
	// Seed drives weight init, the train/validation split and samplers.
	Seed      int64  `hcl:"seed,optional"`
	LogLevel  string `hcl:"log_level,optional"`
	LogFormat string `hcl:"log_format,optional"`
	// LabelSet remaps raw dataset labels to 0..N-1 by position. Leave
	// empty when labels already run 0..N-1.
	LabelSet []int32 `hcl:"label_set,optional"`
}

// Model describes the built-in CNN. Classes is the only required field.
type Model struct {
	Name       string `hcl:"name,optional"`
	Classes    int    `hcl:"classes"`
	InChannels int    `hcl:"in_channels,optional"`
	ImageSize  int    `hcl:"image_size,optional"`
	// Channels gives the output width of each conv stage; every stage
	// ends in a 2x2 max pool.
	Channels   []int `hcl:"channels,optional"`
	KernelSize int   `hcl:"kernel_size,optional"`
	Hidden     int   `hcl:"hidden,optional"`
	BatchNorm  *bool `hcl:"batch_norm,optional"`
}

// BatchNormEnabled reports whether conv stages carry batch normalization.
// Unset means enabled.
func (m *Model) BatchNormEnabled() bool {
	return m.BatchNorm == nil || *m.BatchNorm
}

// Optimizer selects and parameterizes the optimizer; the label is the
// kind ("sgd" or "adam"). Zero hyperparameters fall back to the
// optimizer's own defaults.
type Optimizer struct {
	Kind        string  `hcl:"kind,label"`
	LR          float64 `hcl:"lr,optional"`
	Momentum    float64 `hcl:"momentum,optional"`
	Beta1       float64 `hcl:"beta1,optional"`
	Beta2       float64 `hcl:"beta2,optional"`
	Eps         float64 `hcl:"eps,optional"`
	WeightDecay float64 `hcl:"weight_decay,optional"`
}

// Scheduler selects a learning-rate schedule; the label is the kind
// ("steplr", "exponential" or "cosine").
type Scheduler struct {
	Kind     string  `hcl:"kind,label"`
	StepSize int     `hcl:"step_size,optional"`
	Gamma    float64 `hcl:"gamma,optional"`
	TMax     int     `hcl:"t_max,optional"`
	EtaMin   float64 `hcl:"eta_min,optional"`
}

// Data points at the dataset files. ValSplit carves a validation part out
// of the dataset; the loader named "test" always sees the whole dataset.
type Data struct {
	Format   string  `hcl:"format,optional"`
	Images   string  `hcl:"images"`
	Labels   string  `hcl:"labels"`
	ValSplit float64 `hcl:"val_split,optional"`
}

// Loader configures one named batch loader. The engine looks up loaders
// by name: "train" and "validation" for training, "test" for evaluation.
type Loader struct {
	Name      string `hcl:"name,label"`
	BatchSize int    `hcl:"batch_size"`
	Shuffle   bool   `hcl:"shuffle,optional"`
}

// Training holds the training schedule.
type Training struct {
	Epochs         int  `hcl:"epochs"`
	ReportInterval int  `hcl:"report_interval,optional"`
	ValInterval    int  `hcl:"val_interval,optional"`
	NumValBatches  int  `hcl:"num_val_batches,optional"`
	Checkpointing  bool `hcl:"checkpointing,optional"`
	// SaveInterval saves a checkpoint every N epochs; 0 disables it.
	SaveInterval int `hcl:"save_interval,optional"`
}

// Evaluation selects the relevance-propagation composite.
type Evaluation struct {
	Composite string `hcl:"composite,optional"`
}

// Distributed describes the process group. KILN_RANK, KILN_WORLD_SIZE and
// KILN_COORDINATOR override these at runtime so one file serves every
// rank of a launch.
type Distributed struct {
	WorldSize   int    `hcl:"world_size,optional"`
	Rank        int    `hcl:"rank,optional"`
	Coordinator string `hcl:"coordinator,optional"`
}

// Load reads, decodes, defaults and validates a run file.
func Load(path string) (*File, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parsing %s: %w", path, diags)
	}
	return decode(path, hclFile)
}

// Parse decodes a run file held in memory; filename only labels
// diagnostics.
func Parse(filename string, src []byte) (*File, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parsing %s: %w", filename, diags)
	}
	return decode(filename, hclFile)
}

func decode(name string, hclFile *hcl.File) (*File, error) {
	var f File
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &f); diags.HasErrors() {
		return nil, fmt.Errorf("config: decoding %s: %w", name, diags)
	}
	f.ApplyDefaults()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", name, err)
	}
	return &f, nil
}

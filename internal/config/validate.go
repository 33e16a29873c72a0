package config

import "fmt"

// ApplyDefaults fills unset fields with their documented defaults. Load
// calls this before Validate; callers constructing File values directly
// should do the same.
func (f *File) ApplyDefaults() {
	if f.Run != nil {
		if f.Run.Device == "" {
			f.Run.Device = "cpu"
		}
		if f.Run.LogLevel == "" {
			f.Run.LogLevel = "info"
		}
		if f.Run.LogFormat == "" {
			f.Run.LogFormat = "text"
		}
	}
	if f.Model != nil {
		if f.Model.Name == "" {
			f.Model.Name = "convnet"
		}
		if f.Model.InChannels == 0 {
			f.Model.InChannels = 1
		}
		if f.Model.ImageSize == 0 {
			f.Model.ImageSize = 28
		}
		if len(f.Model.Channels) == 0 {
			f.Model.Channels = []int{16, 32}
		}
		if f.Model.KernelSize == 0 {
			f.Model.KernelSize = 3
		}
		if f.Model.Hidden == 0 {
			f.Model.Hidden = 128
		}
		if f.Model.BatchNorm == nil {
			enabled := true
			f.Model.BatchNorm = &enabled
		}
	}
	if f.Scheduler != nil && f.Scheduler.Kind == "steplr" && f.Scheduler.Gamma == 0 {
		f.Scheduler.Gamma = 0.1
	}
	if f.Data != nil && f.Data.Format == "" {
		f.Data.Format = "idx"
	}
	if f.Training != nil {
		if f.Training.ReportInterval == 0 {
			f.Training.ReportInterval = 100
		}
		if f.Training.ValInterval == 0 {
			f.Training.ValInterval = 100
		}
		if f.Training.NumValBatches == 0 {
			f.Training.NumValBatches = 4
		}
	}
	if f.Evaluation != nil && f.Evaluation.Composite == "" {
		f.Evaluation.Composite = "epsilon_plus_flat"
	}
	if f.Distributed != nil && f.Distributed.WorldSize == 0 {
		f.Distributed.WorldSize = 1
	}
}

// Validate checks the decoded file for consistency. The run, model and
// data blocks are required; every other block is checked only when
// present.
func (f *File) Validate() error {
	if f.Run == nil {
		return fmt.Errorf("run block is required")
	}
	if err := f.Run.validate(); err != nil {
		return err
	}
	if f.Model == nil {
		return fmt.Errorf("model block is required")
	}
	if err := f.Model.validate(); err != nil {
		return err
	}
	if f.Data == nil {
		return fmt.Errorf("data block is required")
	}
	if err := f.Data.validate(); err != nil {
		return err
	}
	if f.Optimizer != nil {
		if err := f.Optimizer.validate(); err != nil {
			return err
		}
	}
	if f.Scheduler != nil {
		if err := f.Scheduler.validate(); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(f.Loaders))
	for i := range f.Loaders {
		l := &f.Loaders[i]
		if seen[l.Name] {
			return fmt.Errorf("loader %q defined twice", l.Name)
		}
		seen[l.Name] = true
		if l.BatchSize <= 0 {
			return fmt.Errorf("loader %q: batch_size must be positive, got %d", l.Name, l.BatchSize)
		}
	}
	if f.Training != nil {
		if err := f.Training.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Run) validate() error {
	switch r.Device {
	case "cpu", "gpu":
	default:
		return fmt.Errorf("run.device must be \"cpu\" or \"gpu\", got %q", r.Device)
	}
	switch r.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("run.log_level must be debug, info, warn or error, got %q", r.LogLevel)
	}
	switch r.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("run.log_format must be \"text\" or \"json\", got %q", r.LogFormat)
	}
	seen := make(map[int32]bool, len(r.LabelSet))
	for _, label := range r.LabelSet {
		if seen[label] {
			return fmt.Errorf("run.label_set contains %d twice", label)
		}
		seen[label] = true
	}
	return nil
}

func (m *Model) validate() error {
	if m.Classes < 2 {
		return fmt.Errorf("model.classes must be at least 2, got %d", m.Classes)
	}
	if m.InChannels < 1 {
		return fmt.Errorf("model.in_channels must be positive, got %d", m.InChannels)
	}
	if m.ImageSize < 1 {
		return fmt.Errorf("model.image_size must be positive, got %d", m.ImageSize)
	}
	for i, c := range m.Channels {
		if c < 1 {
			return fmt.Errorf("model.channels[%d] must be positive, got %d", i, c)
		}
	}
	if m.KernelSize < 1 {
		return fmt.Errorf("model.kernel_size must be positive, got %d", m.KernelSize)
	}
	if m.Hidden < 1 {
		return fmt.Errorf("model.hidden must be positive, got %d", m.Hidden)
	}
	return nil
}

func (d *Data) validate() error {
	if d.Format != "idx" {
		return fmt.Errorf("data.format %q is not supported (only \"idx\")", d.Format)
	}
	if d.ValSplit < 0 || d.ValSplit >= 1 {
		return fmt.Errorf("data.val_split %v outside [0, 1)", d.ValSplit)
	}
	return nil
}

func (o *Optimizer) validate() error {
	switch o.Kind {
	case "sgd", "adam":
	default:
		return fmt.Errorf("optimizer kind %q is not supported (sgd, adam)", o.Kind)
	}
	if o.LR < 0 {
		return fmt.Errorf("optimizer.lr must not be negative, got %v", o.LR)
	}
	if o.Momentum < 0 || o.Momentum >= 1 {
		return fmt.Errorf("optimizer.momentum %v outside [0, 1)", o.Momentum)
	}
	if o.Beta1 < 0 || o.Beta1 >= 1 {
		return fmt.Errorf("optimizer.beta1 %v outside [0, 1)", o.Beta1)
	}
	if o.Beta2 < 0 || o.Beta2 >= 1 {
		return fmt.Errorf("optimizer.beta2 %v outside [0, 1)", o.Beta2)
	}
	if o.Eps < 0 {
		return fmt.Errorf("optimizer.eps must not be negative, got %v", o.Eps)
	}
	if o.WeightDecay < 0 {
		return fmt.Errorf("optimizer.weight_decay must not be negative, got %v", o.WeightDecay)
	}
	return nil
}

func (s *Scheduler) validate() error {
	switch s.Kind {
	case "steplr":
		if s.StepSize <= 0 {
			return fmt.Errorf("scheduler.step_size must be positive, got %d", s.StepSize)
		}
		if s.Gamma <= 0 {
			return fmt.Errorf("scheduler.gamma must be positive, got %v", s.Gamma)
		}
	case "exponential":
		if s.Gamma <= 0 {
			return fmt.Errorf("scheduler.gamma must be positive, got %v", s.Gamma)
		}
	case "cosine":
		if s.TMax <= 0 {
			return fmt.Errorf("scheduler.t_max must be positive, got %d", s.TMax)
		}
		if s.EtaMin < 0 {
			return fmt.Errorf("scheduler.eta_min must not be negative, got %v", s.EtaMin)
		}
	default:
		return fmt.Errorf("scheduler kind %q is not supported (steplr, exponential, cosine)", s.Kind)
	}
	return nil
}

func (t *Training) validate() error {
	if t.Epochs <= 0 {
		return fmt.Errorf("training.epochs must be positive, got %d", t.Epochs)
	}
	if t.ReportInterval <= 0 {
		return fmt.Errorf("training.report_interval must be positive, got %d", t.ReportInterval)
	}
	if t.ValInterval <= 0 {
		return fmt.Errorf("training.val_interval must be positive, got %d", t.ValInterval)
	}
	if t.NumValBatches <= 0 {
		return fmt.Errorf("training.num_val_batches must be positive, got %d", t.NumValBatches)
	}
	if t.SaveInterval < 0 {
		return fmt.Errorf("training.save_interval must not be negative, got %d", t.SaveInterval)
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullRun = `
run {
  dump_dir   = "runs/demo"
  device     = "cpu"
  seed       = 42
  log_level  = "debug"
  log_format = "json"
  label_set  = [2, 5, 7, 9]
}

model {
  classes     = 4
  in_channels = 1
  image_size  = 16
  channels    = [8, 16]
  kernel_size = 3
  hidden      = 64
}

optimizer "adam" {
  lr    = 0.001
  beta1 = 0.9
  beta2 = 0.999
}

scheduler "steplr" {
  step_size = 10
  gamma     = 0.5
}

data {
  format    = "idx"
  images    = "train-images-idx3-ubyte"
  labels    = "train-labels-idx1-ubyte"
  val_split = 0.1
}

loader "train" {
  batch_size = 64
  shuffle    = true
}

loader "validation" {
  batch_size = 64
}

loader "test" {
  batch_size = 32
}

training {
  epochs          = 20
  report_interval = 50
  val_interval    = 200
  num_val_batches = 8
  checkpointing   = true
  save_interval   = 5
}

evaluation {
  composite = "epsilon_alpha2beta1"
}

distributed {
  world_size  = 2
  rank        = 0
  coordinator = "127.0.0.1:29500"
}
`

func TestParseFullFile(t *testing.T) {
	f, err := Parse("run.hcl", []byte(fullRun))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if f.Run.DumpDir != "runs/demo" || f.Run.Seed != 42 {
		t.Errorf("run block decoded wrong: %+v", f.Run)
	}
	if len(f.Run.LabelSet) != 4 || f.Run.LabelSet[2] != 7 {
		t.Errorf("label_set = %v, want [2 5 7 9]", f.Run.LabelSet)
	}
	if f.Model.Classes != 4 || f.Model.ImageSize != 16 || len(f.Model.Channels) != 2 {
		t.Errorf("model block decoded wrong: %+v", f.Model)
	}
	if !f.Model.BatchNormEnabled() {
		t.Error("batch_norm should default to enabled")
	}
	if f.Optimizer.Kind != "adam" || f.Optimizer.LR != 0.001 {
		t.Errorf("optimizer block decoded wrong: %+v", f.Optimizer)
	}
	if f.Scheduler.Kind != "steplr" || f.Scheduler.StepSize != 10 || f.Scheduler.Gamma != 0.5 {
		t.Errorf("scheduler block decoded wrong: %+v", f.Scheduler)
	}
	if f.Data.ValSplit != 0.1 {
		t.Errorf("data block decoded wrong: %+v", f.Data)
	}
	if len(f.Loaders) != 3 || f.Loaders[0].Name != "train" || !f.Loaders[0].Shuffle {
		t.Errorf("loader blocks decoded wrong: %+v", f.Loaders)
	}
	if f.Loaders[1].Shuffle {
		t.Error("validation loader should default to shuffle=false")
	}
	if f.Training.Epochs != 20 || !f.Training.Checkpointing || f.Training.SaveInterval != 5 {
		t.Errorf("training block decoded wrong: %+v", f.Training)
	}
	if f.Evaluation.Composite != "epsilon_alpha2beta1" {
		t.Errorf("evaluation block decoded wrong: %+v", f.Evaluation)
	}
	if f.Distributed.WorldSize != 2 || f.Distributed.Coordinator != "127.0.0.1:29500" {
		t.Errorf("distributed block decoded wrong: %+v", f.Distributed)
	}
}

func TestLoadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.hcl")
	if err := os.WriteFile(path, []byte(fullRun), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Run.DumpDir != "runs/demo" {
		t.Errorf("dump_dir = %q", f.Run.DumpDir)
	}
}

const minimalRun = `
run {
  dump_dir = "runs/min"
}

model {
  classes = 10
}

data {
  images = "imgs"
  labels = "lbls"
}

training {
  epochs = 1
}

evaluation {}
`

func TestDefaults(t *testing.T) {
	f, err := Parse("run.hcl", []byte(minimalRun))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if f.Run.Device != "cpu" || f.Run.LogLevel != "info" || f.Run.LogFormat != "text" {
		t.Errorf("run defaults wrong: %+v", f.Run)
	}
	if f.Model.Name != "convnet" || f.Model.InChannels != 1 || f.Model.ImageSize != 28 {
		t.Errorf("model defaults wrong: %+v", f.Model)
	}
	if len(f.Model.Channels) != 2 || f.Model.Channels[0] != 16 || f.Model.Channels[1] != 32 {
		t.Errorf("channels default = %v, want [16 32]", f.Model.Channels)
	}
	if f.Model.KernelSize != 3 || f.Model.Hidden != 128 {
		t.Errorf("model defaults wrong: %+v", f.Model)
	}
	if f.Data.Format != "idx" {
		t.Errorf("data.format default = %q, want idx", f.Data.Format)
	}
	if f.Training.ReportInterval != 100 || f.Training.ValInterval != 100 || f.Training.NumValBatches != 4 {
		t.Errorf("training defaults wrong: %+v", f.Training)
	}
	if f.Training.SaveInterval != 0 {
		t.Errorf("save_interval should default to disabled, got %d", f.Training.SaveInterval)
	}
	if f.Evaluation.Composite != "epsilon_plus_flat" {
		t.Errorf("composite default = %q", f.Evaluation.Composite)
	}
}

func TestStepLRGammaDefault(t *testing.T) {
	src := minimalRun + "\nscheduler \"steplr\" { step_size = 3 }\n"
	f, err := Parse("run.hcl", []byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Scheduler.Gamma != 0.1 {
		t.Errorf("steplr gamma default = %v, want 0.1", f.Scheduler.Gamma)
	}
}

// Minimal valid blocks for composing validation cases.
const (
	runOK   = "run { dump_dir = \"d\" }\n"
	modelOK = "model { classes = 2 }\n"
	dataOK  = "data {\n  images = \"i\"\n  labels = \"l\"\n}\n"
)

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing run block",
			src:  modelOK + dataOK,
			want: "run block is required",
		},
		{
			name: "missing model block",
			src:  runOK + dataOK,
			want: "model block is required",
		},
		{
			name: "missing data block",
			src:  runOK + modelOK,
			want: "data block is required",
		},
		{
			name: "one class",
			src:  runOK + "model { classes = 1 }\n" + dataOK,
			want: "model.classes",
		},
		{
			name: "bad device",
			src:  "run {\n  dump_dir = \"d\"\n  device = \"tpu\"\n}\n" + modelOK + dataOK,
			want: "run.device",
		},
		{
			name: "duplicate label",
			src:  "run {\n  dump_dir = \"d\"\n  label_set = [1, 1]\n}\n" + modelOK + dataOK,
			want: "label_set",
		},
		{
			name: "unknown format",
			src:  runOK + modelOK + "data {\n  format = \"hdf5\"\n  images = \"i\"\n  labels = \"l\"\n}\n",
			want: "data.format",
		},
		{
			name: "bad val split",
			src:  runOK + modelOK + "data {\n  images = \"i\"\n  labels = \"l\"\n  val_split = 1.5\n}\n",
			want: "val_split",
		},
		{
			name: "unknown optimizer",
			src:  runOK + modelOK + dataOK + "optimizer \"rmsprop\" {}\n",
			want: "optimizer kind",
		},
		{
			name: "steplr without step size",
			src:  runOK + modelOK + dataOK + "scheduler \"steplr\" {}\n",
			want: "step_size",
		},
		{
			name: "exponential without gamma",
			src:  runOK + modelOK + dataOK + "scheduler \"exponential\" {}\n",
			want: "gamma",
		},
		{
			name: "duplicate loader",
			src:  runOK + modelOK + dataOK + "loader \"train\" { batch_size = 1 }\nloader \"train\" { batch_size = 2 }\n",
			want: "defined twice",
		},
		{
			name: "zero batch size",
			src:  runOK + modelOK + dataOK + "loader \"train\" { batch_size = 0 }\n",
			want: "batch_size",
		},
		{
			name: "zero epochs",
			src:  runOK + modelOK + dataOK + "training { epochs = 0 }\n",
			want: "training.epochs",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("run.hcl", []byte(tc.src))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseRejectsMalformedHCL(t *testing.T) {
	if _, err := Parse("run.hcl", []byte("run {")); err == nil {
		t.Fatal("expected a parse error for an unclosed block")
	}
}

func TestParseRejectsUnknownAttribute(t *testing.T) {
	src := "run {\n  dump_dir = \"d\"\n  colour = \"red\"\n}\n" + modelOK + dataOK
	if _, err := Parse("run.hcl", []byte(src)); err == nil {
		t.Fatal("expected a decode error for an unsupported attribute")
	}
}

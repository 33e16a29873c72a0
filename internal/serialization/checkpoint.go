package serialization

import (
	"strings"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// optimizerPrefix namespaces optimizer buffers inside the shared tensor
// directory so they never collide with model parameters.
const optimizerPrefix = "optimizer."

// Checkpoint bundles everything needed to resume or evaluate a run.
type Checkpoint struct {
	ModelName      string
	GlobalStep     int64
	Epoch          int
	Metadata       map[string]string
	ModelState     map[string]*tensor.RawTensor
	OptimizerState map[string]*tensor.RawTensor
}

// SaveCheckpoint writes model and optimizer state into one file.
func SaveCheckpoint(path string, ckpt Checkpoint) error {
	combined := make(map[string]*tensor.RawTensor, len(ckpt.ModelState)+len(ckpt.OptimizerState))
	for name, raw := range ckpt.ModelState {
		combined[name] = raw
	}
	for name, raw := range ckpt.OptimizerState {
		combined[optimizerPrefix+name] = raw
	}

	header := Header{
		ModelName: ckpt.ModelName,
		Checkpoint: &CheckpointMeta{
			GlobalStep: ckpt.GlobalStep,
			Epoch:      ckpt.Epoch,
			Metadata:   ckpt.Metadata,
		},
	}
	return Write(path, combined, header)
}

// LoadCheckpoint reads a checkpoint and splits the tensor directory back
// into model and optimizer state dicts.
func LoadCheckpoint(path string, device tensor.Device) (*Checkpoint, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	state, err := r.ReadStateDict(device)
	if err != nil {
		return nil, err
	}

	ckpt := &Checkpoint{
		ModelName:      r.Header().ModelName,
		ModelState:     make(map[string]*tensor.RawTensor),
		OptimizerState: make(map[string]*tensor.RawTensor),
	}
	if meta := r.Header().Checkpoint; meta != nil {
		ckpt.GlobalStep = meta.GlobalStep
		ckpt.Epoch = meta.Epoch
		ckpt.Metadata = meta.Metadata
	}
	for name, raw := range state {
		if rest, ok := strings.CutPrefix(name, optimizerPrefix); ok {
			ckpt.OptimizerState[rest] = raw
		} else {
			ckpt.ModelState[name] = raw
		}
	}
	return ckpt, nil
}

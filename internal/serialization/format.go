// Package serialization implements the .kiln checkpoint format.
//
// Layout:
//
//	0x00  magic "KILN"
//	0x04  format version (uint32 LE)
//	0x08  flags (uint32 LE)
//	0x0C  reserved
//	0x10  header size (uint64 LE)
//	0x18  data size (uint64 LE)
//	0x20  SHA-256 of the data section
//	0x40  JSON header, then zero padding to a 64-byte boundary
//	....  tensor payloads, raw little-endian, in header order
//
// The JSON header carries the tensor directory and, for checkpoints, the
// training state needed to resume a run.
package serialization

import (
	"time"

	"github.com/kiln-ml/kiln/internal/tensor"
)

const (
	// Magic identifies a .kiln file.
	Magic = "KILN"

	// FormatVersion is the only version this build reads and writes.
	FormatVersion = 1

	// Alignment pads the data section so payloads start on a cache line.
	Alignment = 64

	fixedHeaderSize = 64
	checksumOffset  = 0x20
	checksumSize    = 32
)

// Header flags.
const (
	FlagHasOptimizer uint32 = 1 << 0
	FlagHasMetadata  uint32 = 1 << 1
)

// Header is the JSON section of a .kiln file.
type Header struct {
	FormatVersion int             `json:"format_version"`
	KilnVersion   string          `json:"kiln_version"`
	ModelName     string          `json:"model_name"`
	CreatedAt     time.Time       `json:"created_at"`
	Tensors       []TensorMeta    `json:"tensors"`
	Checkpoint    *CheckpointMeta `json:"checkpoint,omitempty"`
}

// TensorMeta locates one tensor inside the data section. Offset is
// relative to the start of the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
}

// CheckpointMeta is the training state stored alongside the tensors.
type CheckpointMeta struct {
	GlobalStep int64             `json:"global_step"`
	Epoch      int               `json:"epoch"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// align rounds pos up to the next Alignment boundary.
func align(pos int64) int64 {
	return (pos + Alignment - 1) / Alignment * Alignment
}

// payloadSize is the number of bytes a tensor occupies in the data
// section.
func payloadSize(raw *tensor.RawTensor) int64 {
	return int64(raw.ByteSize())
}

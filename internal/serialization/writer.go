package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/kiln-ml/kiln/internal/tensor"
)

const kilnVersion = "0.3.0"

// Write serializes a state dict to path. The header's directory,
// timestamps and version fields are filled in here; callers only set
// ModelName and Checkpoint.
func Write(path string, state map[string]*tensor.RawTensor, header Header) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteTo(file, state, header); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteTo serializes a state dict to an arbitrary writer. Tensors are laid
// out in sorted name order, so identical state always produces an
// identical file.
func WriteTo(w io.Writer, state map[string]*tensor.RawTensor, header Header) error {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	header.FormatVersion = FormatVersion
	header.KilnVersion = kilnVersion
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}

	header.Tensors = make([]TensorMeta, 0, len(names))
	var offset int64
	var dataSize int64
	for _, name := range names {
		raw := state[name]
		size := payloadSize(raw)
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  raw.DType().String(),
			Shape:  []int(raw.Shape()),
			Offset: offset,
			Size:   size,
		})
		offset += size
		dataSize += size
	}

	data := make([]byte, 0, dataSize)
	for _, name := range names {
		data = append(data, state[name].Data()...)
	}
	checksum := computeChecksum(data)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	var flags uint32
	if header.Checkpoint != nil {
		flags |= FlagHasOptimizer
		if len(header.Checkpoint.Metadata) > 0 {
			flags |= FlagHasMetadata
		}
	}

	fixed := make([]byte, fixedHeaderSize)
	copy(fixed[0:4], Magic)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(dataSize))
	copy(fixed[checksumOffset:checksumOffset+checksumSize], checksum[:])

	if _, err := w.Write(fixed); err != nil {
		return fmt.Errorf("writing fixed header: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	pos := int64(fixedHeaderSize) + int64(len(headerJSON))
	if padding := align(pos) - pos; padding > 0 {
		if _, err := w.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("writing padding: %w", err)
		}
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing tensor data: %w", err)
	}
	return nil
}

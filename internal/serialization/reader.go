package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Reader reads a .kiln file. The whole file is loaded and validated up
// front; checkpoints in this engine are small enough that streaming buys
// nothing.
type Reader struct {
	header Header
	data   []byte
	byName map[string]*TensorMeta
}

// Open reads and validates path.
func Open(path string) (*Reader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	r, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return r, nil
}

// Parse validates an in-memory .kiln image.
func Parse(file []byte) (*Reader, error) {
	if len(file) < fixedHeaderSize {
		return nil, ErrInvalidMagic
	}
	if !bytes.Equal(file[0:4], []byte(Magic)) {
		return nil, ErrInvalidMagic
	}
	if version := binary.LittleEndian.Uint32(file[4:8]); version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, version, FormatVersion)
	}

	headerSize := binary.LittleEndian.Uint64(file[16:24])
	dataSize := binary.LittleEndian.Uint64(file[24:32])
	if headerSize > maxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	headerEnd := int64(fixedHeaderSize) + int64(headerSize)
	if headerEnd > int64(len(file)) {
		return nil, &ValidationError{Field: "header_size", Reason: "extends beyond file"}
	}
	dataStart := align(headerEnd)
	if dataStart+int64(dataSize) > int64(len(file)) {
		return nil, &ValidationError{Field: "data_size", Reason: "extends beyond file"}
	}

	r := &Reader{data: file[dataStart : dataStart+int64(dataSize)]}
	if err := json.Unmarshal(file[fixedHeaderSize:headerEnd], &r.header); err != nil {
		return nil, fmt.Errorf("parsing header JSON: %w", err)
	}

	var stored [checksumSize]byte
	copy(stored[:], file[checksumOffset:checksumOffset+checksumSize])
	if err := validateChecksum(computeChecksum(r.data), stored); err != nil {
		return nil, err
	}

	if err := validateDirectory(r.header.Tensors, int64(dataSize)); err != nil {
		return nil, err
	}
	r.byName = make(map[string]*TensorMeta, len(r.header.Tensors))
	for i := range r.header.Tensors {
		meta := &r.header.Tensors[i]
		r.byName[meta.Name] = meta
	}
	return r, nil
}

// Header returns the parsed JSON header.
func (r *Reader) Header() Header { return r.header }

// TensorNames lists the directory in file order.
func (r *Reader) TensorNames() []string {
	names := make([]string, len(r.header.Tensors))
	for i, meta := range r.header.Tensors {
		names[i] = meta.Name
	}
	return names
}

// LoadTensor materializes one tensor on the given device.
func (r *Reader) LoadTensor(name string, device tensor.Device) (*tensor.RawTensor, error) {
	meta, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTensorNotFound, name)
	}

	dtype, ok := tensor.ParseDataType(meta.DType)
	if !ok {
		return nil, &ValidationError{Field: "dtype", Reason: fmt.Sprintf("unknown type %q for %q", meta.DType, name)}
	}
	shape := tensor.Shape(meta.Shape)
	if err := shape.Validate(); err != nil {
		return nil, &ValidationError{Field: "shape", Reason: fmt.Sprintf("tensor %q: %v", name, err)}
	}

	raw, err := tensor.NewRaw(shape, dtype, device)
	if err != nil {
		return nil, fmt.Errorf("allocating %q: %w", name, err)
	}
	if int64(raw.ByteSize()) != meta.Size {
		return nil, &ValidationError{
			Field:  "size",
			Reason: fmt.Sprintf("tensor %q: shape %v needs %d bytes, directory says %d", name, shape, raw.ByteSize(), meta.Size),
		}
	}
	copy(raw.Data(), r.data[meta.Offset:meta.Offset+meta.Size])
	return raw, nil
}

// ReadStateDict materializes every tensor in the file.
func (r *Reader) ReadStateDict(device tensor.Device) (map[string]*tensor.RawTensor, error) {
	state := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, meta := range r.header.Tensors {
		raw, err := r.LoadTensor(meta.Name, device)
		if err != nil {
			return nil, err
		}
		state[meta.Name] = raw
	}
	return state, nil
}

var _ io.Closer = (*Reader)(nil)

// Close releases the file image.
func (r *Reader) Close() error {
	r.data = nil
	r.byName = nil
	return nil
}

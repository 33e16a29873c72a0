// Package npy reads and writes NumPy .npy version 1.0 files. Evaluation
// outputs are written in this format so downstream analysis tooling can
// load them without conversion.
//
// Only little-endian float32, int32 and int64 C-order arrays are
// supported, which covers every array the engine produces.
package npy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/kiln-ml/kiln/internal/tensor"
)

var (
	ErrInvalidMagic    = errors.New("not an npy file: bad magic bytes")
	ErrUnsupportedType = errors.New("unsupported npy dtype")
)

var magic = []byte{0x93, 'N', 'U', 'M', 'P', 'Y'}

// headerAlignment pads the header so the payload starts on a 64-byte
// boundary, matching what modern NumPy emits.
const headerAlignment = 64

// Write saves a tensor as an .npy file.
func Write(path string, raw *tensor.RawTensor) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteTo(file, raw); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteTo serializes a tensor in npy v1.0 layout.
func WriteTo(w io.Writer, raw *tensor.RawTensor) error {
	descr, err := descrFor(raw.DType())
	if err != nil {
		return err
	}

	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }",
		descr, shapeTuple(raw.Shape()))

	// magic + version + header length prefix.
	preamble := len(magic) + 2 + 2
	total := preamble + len(dict) + 1 // trailing newline
	padded := (total + headerAlignment - 1) / headerAlignment * headerAlignment
	header := dict + strings.Repeat(" ", padded-total) + "\n"

	if _, err := w.Write(magic); err != nil {
		return fmt.Errorf("writing magic: %w", err)
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return fmt.Errorf("writing version: %w", err)
	}
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(header)))
	if _, err := w.Write(hlen[:]); err != nil {
		return fmt.Errorf("writing header length: %w", err)
	}
	if _, err := w.Write([]byte(header)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := w.Write(raw.Data()); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}

// Read loads an .npy file into host memory.
func Read(path string) (*tensor.RawTensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()
	raw, err := ReadFrom(file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return raw, nil
}

var headerPattern = regexp.MustCompile(
	`'descr':\s*'([^']+)'\s*,\s*'fortran_order':\s*(True|False)\s*,\s*'shape':\s*\(([^)]*)\)`)

// ReadFrom parses an npy v1.0 stream.
func ReadFrom(r io.Reader) (*tensor.RawTensor, error) {
	preamble := make([]byte, len(magic)+2+2)
	if _, err := io.ReadFull(r, preamble); err != nil {
		return nil, fmt.Errorf("reading preamble: %w", err)
	}
	if string(preamble[:len(magic)]) != string(magic) {
		return nil, ErrInvalidMagic
	}
	if major := preamble[6]; major != 1 {
		return nil, fmt.Errorf("unsupported npy version %d.%d", preamble[6], preamble[7])
	}

	headerLen := binary.LittleEndian.Uint16(preamble[8:10])
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	match := headerPattern.FindSubmatch(header)
	if match == nil {
		return nil, fmt.Errorf("malformed npy header %q", header)
	}
	dtype, err := dtypeFor(string(match[1]))
	if err != nil {
		return nil, err
	}
	if string(match[2]) == "True" {
		return nil, fmt.Errorf("fortran-order arrays are not supported")
	}
	shape, err := parseShape(string(match[3]))
	if err != nil {
		return nil, err
	}

	raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("allocating array: %w", err)
	}
	if _, err := io.ReadFull(r, raw.Data()); err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return raw, nil
}

func descrFor(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "<f4", nil
	case tensor.Int32:
		return "<i4", nil
	case tensor.Int64:
		return "<i8", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, dt)
	}
}

func dtypeFor(descr string) (tensor.DataType, error) {
	switch descr {
	case "<f4":
		return tensor.Float32, nil
	case "<i4":
		return tensor.Int32, nil
	case "<i8":
		return tensor.Int64, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, descr)
	}
}

// shapeTuple renders a Go shape as a Python tuple literal. One-element
// tuples carry the trailing comma NumPy expects.
func shapeTuple(shape tensor.Shape) string {
	parts := make([]string, len(shape))
	for i, dim := range shape {
		parts[i] = strconv.Itoa(dim)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func parseShape(tuple string) (tensor.Shape, error) {
	var shape tensor.Shape
	for _, part := range strings.Split(tuple, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dim, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("malformed shape element %q", part)
		}
		shape = append(shape, dim)
	}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return shape, nil
}

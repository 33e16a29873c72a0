package npy

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kiln-ml/kiln/internal/tensor"
)

func makeFloat32(t *testing.T, values []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}
	copy(raw.AsFloat32(), values)
	return raw
}

func TestRoundTripFloat32(t *testing.T) {
	src := makeFloat32(t, []float32{1.5, -2, 3.25, 0, 5, 6}, tensor.Shape{2, 3})

	var buf bytes.Buffer
	if err := WriteTo(&buf, src); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrom(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if !got.Shape().Equal(tensor.Shape{2, 3}) {
		t.Fatalf("shape = %v, want [2 3]", got.Shape())
	}
	if got.DType() != tensor.Float32 {
		t.Fatalf("dtype = %v, want float32", got.DType())
	}
	for i, want := range src.AsFloat32() {
		if v := got.AsFloat32()[i]; v != want {
			t.Errorf("value[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestRoundTripInt64Vector(t *testing.T) {
	src, err := tensor.NewRaw(tensor.Shape{4}, tensor.Int64, tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}
	copy(src.AsInt64(), []int64{10, -20, 30, 1 << 40})

	var buf bytes.Buffer
	if err := WriteTo(&buf, src); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrom(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if !got.Shape().Equal(tensor.Shape{4}) {
		t.Fatalf("shape = %v, want [4]", got.Shape())
	}
	for i, want := range src.AsInt64() {
		if v := got.AsInt64()[i]; v != want {
			t.Errorf("value[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "softmax.npy")
	src := makeFloat32(t, []float32{0.1, 0.9}, tensor.Shape{1, 2})

	if err := Write(path, src); err != nil {
		t.Fatal(err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.AsFloat32()[1] != 0.9 {
		t.Errorf("value[1] = %v, want 0.9", got.AsFloat32()[1])
	}
}

func TestPayloadAlignment(t *testing.T) {
	src := makeFloat32(t, []float32{1}, tensor.Shape{1})

	var buf bytes.Buffer
	if err := WriteTo(&buf, src); err != nil {
		t.Fatal(err)
	}

	// Preamble plus padded header must land on the alignment boundary.
	payloadStart := buf.Len() - src.ByteSize()
	if payloadStart%headerAlignment != 0 {
		t.Errorf("payload starts at %d, not %d-byte aligned", payloadStart, headerAlignment)
	}
	// Header text ends with a newline per the format spec.
	if buf.Bytes()[payloadStart-1] != '\n' {
		t.Error("header padding must end with a newline")
	}
}

func TestSingleDimensionTupleComma(t *testing.T) {
	src := makeFloat32(t, []float32{1, 2, 3}, tensor.Shape{3})

	var buf bytes.Buffer
	if err := WriteTo(&buf, src); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("(3,)")) {
		t.Error("one-dimensional shape must serialize as (3,)")
	}
}

func TestRejectsBadMagic(t *testing.T) {
	src := makeFloat32(t, []float32{1}, tensor.Shape{1})
	var buf bytes.Buffer
	if err := WriteTo(&buf, src); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	data[0] = 'X'

	if _, err := ReadFrom(bytes.NewReader(data)); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestRejectsUnsupportedDType(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{2}, tensor.Bool, tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteTo(&buf, raw); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("err = %v, want ErrUnsupportedType", err)
	}
}

func TestRejectsFortranOrder(t *testing.T) {
	src := makeFloat32(t, []float32{1}, tensor.Shape{1})
	var buf bytes.Buffer
	if err := WriteTo(&buf, src); err != nil {
		t.Fatal(err)
	}
	data := bytes.Replace(buf.Bytes(), []byte("False"), []byte("True "), 1)

	if _, err := ReadFrom(bytes.NewReader(data)); err == nil {
		t.Error("expected fortran-order rejection")
	}
}

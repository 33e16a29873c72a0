// Package tensor provides the core tensor types for the Kiln engine.
package tensor

// DType is the compile-time constraint for supported tensor element types.
type DType interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint8 | ~bool
}

// DataType is the runtime type tag of a tensor.
type DataType int

// Supported data types. Float32 carries model weights and activations,
// Int32 class labels, Int64 sample indices, Uint8 raw image bytes and
// Bool comparison masks.
const (
	Float32 DataType = iota
	Float64
	Int32
	Int64
	Uint8
	Bool
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns the lower-case type name.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// ParseDataType resolves a type name as produced by String.
func ParseDataType(name string) (DataType, bool) {
	switch name {
	case "float32":
		return Float32, true
	case "float64":
		return Float64, true
	case "int32":
		return Int32, true
	case "int64":
		return Int64, true
	case "uint8":
		return Uint8, true
	case "bool":
		return Bool, true
	default:
		return 0, false
	}
}

// inferDataType maps a generic element type to its runtime tag.
func inferDataType[T DType](dummy T) DataType {
	switch any(dummy).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case bool:
		return Bool
	default:
		panic("unsupported type")
	}
}

package compressor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/gradsync/internal/f16"
)

// DType identifies the element type of a tensor view.
type DType uint8

// Supported element types.
const (
	Float16 DType = 1 + iota
	Float32
	Float64
)

// maxElemSize is the widest supported element in bytes. Scratch and momentum
// buffers are sized for it so one instance can serve any dtype.
const maxElemSize = 8

// Size returns the element size in bytes, or 0 for an unknown dtype.
func (d DType) Size() int {
	switch d {
	case Float16:
		return 2
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether d is a supported element type.
func (d DType) Valid() bool {
	return d.Size() != 0
}

func (d DType) String() string {
	switch d {
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// accessor loads and stores a single element as float64, hiding the storage
// width. All element-wise arithmetic is written once against this table; a new
// dtype only needs a new case here.
type accessor struct {
	load  func(b []byte) float64
	store func(b []byte, v float64)
}

func (d DType) accessor() (accessor, error) {
	switch d {
	case Float16:
		return accessor{
			load: func(b []byte) float64 {
				return float64(f16.Decode(binary.LittleEndian.Uint16(b)))
			},
			store: func(b []byte, v float64) {
				binary.LittleEndian.PutUint16(b, f16.Encode(float32(v)))
			},
		}, nil
	case Float32:
		return accessor{
			load: func(b []byte) float64 {
				return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
			},
			store: func(b []byte, v float64) {
				binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
			},
		}, nil
	case Float64:
		return accessor{
			load: func(b []byte) float64 {
				return math.Float64frombits(binary.LittleEndian.Uint64(b))
			},
			store: func(b []byte, v float64) {
				binary.LittleEndian.PutUint64(b, math.Float64bits(v))
			},
		}, nil
	default:
		return accessor{}, fmt.Errorf("%s: %w", d, ErrUnsupportedDType)
	}
}

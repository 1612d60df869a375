package compressor

import (
	"encoding/binary"
	"errors"
)

// Configuration and dispatch failures. All of them indicate the compressor was
// wired to the wrong tensor or parameter set in the training graph; none are
// retryable, and nothing in this package retries internally.
var (
	// ErrInvalidSize is returned when a compressor is constructed with a
	// non-positive element count.
	ErrInvalidSize = errors.New("element count must be positive")

	// ErrInvalidK is returned when k is outside (0, size].
	ErrInvalidK = errors.New("k must be in (0, size]")

	// ErrSizeMismatch is returned when a call argument does not match the
	// element count the instance was configured for.
	ErrSizeMismatch = errors.New("element count mismatch")

	// ErrUnsupportedDType is returned when an element type has no dispatch
	// entry. Failing here beats misreading bytes under a wrong width.
	ErrUnsupportedDType = errors.New("unsupported element type")

	// ErrDTypeMismatch is returned when views that must share an element type
	// disagree.
	ErrDTypeMismatch = errors.New("element type mismatch")

	// ErrMalformedPacked is returned when a packed buffer's length or record
	// indices are inconsistent with the instance configuration.
	ErrMalformedPacked = errors.New("malformed packed buffer")
)

// Compressor is the capability contract for one gradient stream.
//
// All methods run synchronously on the calling goroutine with cost bounded by
// the configured size. A single instance owns mutable scratch state and must be
// driven by exactly one logical worker; wrap with external synchronization if
// that cannot be guaranteed.
type Compressor interface {
	// Compress shrinks a gradient of exactly Size() elements. The returned
	// Packed aliases instance scratch and is invalidated by the next call.
	Compress(grad TensorView) (Packed, error)

	// Decompress reconstructs a full-size approximation of the gradient the
	// packed buffer was produced from. The returned view aliases instance
	// scratch and is invalidated by the next call.
	Decompress(p Packed) (TensorView, error)

	// UpdateError rewrites errBuf (owned by the caller) to the residual of
	// corrected that p did not transmit: corrected minus decompress(p).
	UpdateError(errBuf, corrected TensorView, p Packed) error

	// FastUpdateError produces the same residual as UpdateError but reads the
	// selected indices straight out of p instead of re-deriving them.
	FastUpdateError(errBuf, corrected TensorView, p Packed) error

	// Size is the element count this instance was configured for.
	Size() int
}

// scratch is the fixed working memory owned by a compressor instance. The
// packed and unpacked regions come from one allocation but never overlap, so a
// same-instance compress/decompress round trip is safe.
type scratch struct {
	unpacked []byte
	packed   []byte
}

func newScratch(size, k, indexWidth int) scratch {
	unpackedLen := size * maxElemSize
	packedLen := k * (indexWidth + maxElemSize)
	buf := make([]byte, unpackedLen+packedLen)
	return scratch{
		unpacked: buf[:unpackedLen:unpackedLen],
		packed:   buf[unpackedLen:],
	}
}

// indexWidth returns the narrowest unsigned width in bytes that can represent
// size-1.
func indexWidth(size int) int {
	switch {
	case uint64(size) <= 1<<8:
		return 1
	case uint64(size) <= 1<<16:
		return 2
	case uint64(size) <= 1<<32:
		return 4
	default:
		return 8
	}
}

func putIndex(b []byte, width int, v uint64) {
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func getIndex(b []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// Package payload frames packed gradient bytes for transport, optionally
// running them through byte-level block compression.
//
// This is an outer layer over the compressor wire format: the inner record
// sequence stays header-less, the frame adds what byte-level decoding needs
// and nothing about gradient semantics.
package payload

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/gradsync/internal/conv"
)

// Compression selects the block-compression algorithm for a frame.
type Compression uint8

const (
	// None stores frames raw. Sparsified payloads are already small and
	// high-entropy; this is the default.
	None Compression = iota
	// LZ4 block compression: fastest, modest ratio.
	LZ4
	// ZSTD block compression: better ratio, more CPU.
	ZSTD
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// Frame layout: [algo u8][rawLen u32][compLen u32][data...], little-endian.
// compLen == 0 means the data is stored raw (either None was requested or
// compression did not pay for itself).
const headerSize = 9

// ZSTD encoder/decoder pools; both are safe to reuse and expensive to build.
var (
	zstdEncPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	}}
	zstdDecPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	}}
)

// Encode frames data with the requested compression. If the compressed form
// is not at least 10% smaller, the frame stores the data raw.
func Encode(data []byte, algo Compression) ([]byte, error) {
	rawLen, err := conv.IntToUint32(len(data))
	if err != nil {
		return nil, fmt.Errorf("payload encode: %w", err)
	}

	var compressed []byte
	switch algo {
	case None:
	case LZ4:
		bound := lz4.CompressBlockBound(len(data))
		buf := make([]byte, bound)
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("payload encode lz4: %w", err)
		}
		if n > 0 {
			compressed = buf[:n]
		}
	case ZSTD:
		enc := zstdEncPool.Get().(*zstd.Encoder)
		compressed = enc.EncodeAll(data, nil)
		zstdEncPool.Put(enc)
	default:
		return nil, fmt.Errorf("payload encode: unknown compression %s", algo)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		frame := make([]byte, headerSize+len(data))
		frame[0] = byte(algo)
		binary.LittleEndian.PutUint32(frame[1:], rawLen)
		binary.LittleEndian.PutUint32(frame[5:], 0)
		copy(frame[headerSize:], data)
		return frame, nil
	}

	compLen, err := conv.IntToUint32(len(compressed))
	if err != nil {
		return nil, fmt.Errorf("payload encode: %w", err)
	}
	frame := make([]byte, headerSize+len(compressed))
	frame[0] = byte(algo)
	binary.LittleEndian.PutUint32(frame[1:], rawLen)
	binary.LittleEndian.PutUint32(frame[5:], compLen)
	copy(frame[headerSize:], compressed)
	return frame, nil
}

// Decode unframes data produced by Encode.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < headerSize {
		return nil, fmt.Errorf("payload decode: frame of %d bytes is shorter than the header", len(frame))
	}
	algo := Compression(frame[0])
	rawLen, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(frame[1:]))
	if err != nil {
		return nil, fmt.Errorf("payload decode: %w", err)
	}
	compLen, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(frame[5:]))
	if err != nil {
		return nil, fmt.Errorf("payload decode: %w", err)
	}
	body := frame[headerSize:]

	if compLen == 0 {
		if len(body) != rawLen {
			return nil, fmt.Errorf("payload decode: raw frame has %d bytes, header says %d", len(body), rawLen)
		}
		out := make([]byte, rawLen)
		copy(out, body)
		return out, nil
	}
	if len(body) != compLen {
		return nil, fmt.Errorf("payload decode: compressed frame has %d bytes, header says %d", len(body), compLen)
	}

	switch algo {
	case LZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("payload decode lz4: %w", err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("payload decode lz4: got %d bytes, header says %d", n, rawLen)
		}
		return out, nil
	case ZSTD:
		dec := zstdDecPool.Get().(*zstd.Decoder)
		out, err := dec.DecodeAll(body, make([]byte, 0, rawLen))
		zstdDecPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("payload decode zstd: %w", err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("payload decode zstd: got %d bytes, header says %d", len(out), rawLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("payload decode: compressed frame with unknown algorithm %s", algo)
	}
}

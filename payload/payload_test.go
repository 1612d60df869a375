package payload

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gradsync/testutil"
)

func TestRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("gradient "), 512)
	random := testutil.NewRNG(1).Bytes(4096)

	for _, algo := range []Compression{None, LZ4, ZSTD} {
		t.Run(algo.String(), func(t *testing.T) {
			for _, data := range [][]byte{compressible, random, nil} {
				frame, err := Encode(data, algo)
				require.NoError(t, err)

				got, err := Decode(frame)
				require.NoError(t, err)
				require.Equal(t, len(data), len(got))
				require.True(t, bytes.Equal(data, got))
			}
		})
	}
}

func TestCompressibleDataShrinks(t *testing.T) {
	data := bytes.Repeat([]byte{1, 2, 3, 4}, 4096)

	for _, algo := range []Compression{LZ4, ZSTD} {
		frame, err := Encode(data, algo)
		require.NoError(t, err)
		require.Less(t, len(frame), len(data), "%s should compress repetitive data", algo)
	}
}

func TestIncompressibleDataStoredRaw(t *testing.T) {
	data := testutil.NewRNG(2).Bytes(4096)

	frame, err := Encode(data, LZ4)
	require.NoError(t, err)
	// Raw storage: header plus the original bytes, compLen field zero.
	require.Equal(t, headerSize+len(data), len(frame))
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	t.Run("short frame", func(t *testing.T) {
		_, err := Decode([]byte{1, 2, 3})
		require.Error(t, err)
	})

	t.Run("length mismatch", func(t *testing.T) {
		frame, err := Encode([]byte("payload bytes"), None)
		require.NoError(t, err)
		_, err = Decode(frame[:len(frame)-2])
		require.Error(t, err)
	})

	t.Run("unknown algorithm", func(t *testing.T) {
		frame, err := Encode(bytes.Repeat([]byte{7}, 256), ZSTD)
		require.NoError(t, err)
		frame[0] = 0x7F
		_, err = Decode(frame)
		require.Error(t, err)
	})

	t.Run("corrupt zstd body", func(t *testing.T) {
		frame, err := Encode(bytes.Repeat([]byte{7}, 4096), ZSTD)
		require.NoError(t, err)
		for i := headerSize; i < len(frame); i++ {
			frame[i] ^= 0xFF
		}
		_, err = Decode(frame)
		require.Error(t, err)
	})
}

func TestEncodeRejectsUnknownCompression(t *testing.T) {
	_, err := Encode([]byte("x"), Compression(9))
	require.Error(t, err)
}

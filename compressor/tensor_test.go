package compressor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gradsync/compressor"
	"github.com/hupe1980/gradsync/testutil"
)

func TestDType(t *testing.T) {
	tests := []struct {
		dtype compressor.DType
		size  int
		str   string
	}{
		{compressor.Float16, 2, "float16"},
		{compressor.Float32, 4, "float32"},
		{compressor.Float64, 8, "float64"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.size, tt.dtype.Size())
		require.Equal(t, tt.str, tt.dtype.String())
		require.True(t, tt.dtype.Valid())
	}

	var unknown compressor.DType
	require.Zero(t, unknown.Size())
	require.False(t, unknown.Valid())
}

func TestNewTensorView(t *testing.T) {
	v, err := compressor.NewTensorView(make([]byte, 16), compressor.Float32)
	require.NoError(t, err)
	require.Equal(t, 4, v.Count)

	_, err = compressor.NewTensorView(make([]byte, 15), compressor.Float32)
	require.ErrorIs(t, err, compressor.ErrSizeMismatch)

	_, err = compressor.NewTensorView(make([]byte, 16), compressor.DType(42))
	require.ErrorIs(t, err, compressor.ErrUnsupportedDType)
}

func TestAccumulate(t *testing.T) {
	dst := float32View(t, []float32{1, 2, 3})
	src := float32View(t, []float32{10, 20, 30})
	require.NoError(t, compressor.Accumulate(dst, src))
	require.Equal(t, []float32{11, 22, 33}, testutil.Float32s(dst.Data))

	t.Run("dtype mismatch", func(t *testing.T) {
		other, err := compressor.NewTensorView(testutil.Float64Bytes([]float64{1, 2, 3}), compressor.Float64)
		require.NoError(t, err)
		require.ErrorIs(t, compressor.Accumulate(dst, other), compressor.ErrDTypeMismatch)
	})

	t.Run("count mismatch", func(t *testing.T) {
		short := float32View(t, []float32{1})
		require.ErrorIs(t, compressor.Accumulate(dst, short), compressor.ErrSizeMismatch)
	})

	t.Run("float16 goes through the dispatch table", func(t *testing.T) {
		a, err := compressor.NewTensorView(testutil.Float16Bytes([]float32{1, 2}), compressor.Float16)
		require.NoError(t, err)
		b, err := compressor.NewTensorView(testutil.Float16Bytes([]float32{0.5, 0.25}), compressor.Float16)
		require.NoError(t, err)
		require.NoError(t, compressor.Accumulate(a, b))
		require.Equal(t, []float32{1.5, 2.25}, testutil.Float16s(a.Data))
	})
}

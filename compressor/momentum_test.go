package compressor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gradsync/compressor"
	"github.com/hupe1980/gradsync/testutil"
)

// lossless inner compressor so momentum contents can be observed exactly.
func newLossless(t *testing.T, size int) *compressor.RandomK {
	t.Helper()
	c, err := compressor.NewRandomK(size, size, 1, true)
	require.NoError(t, err)
	return c
}

func TestVanillaMomentum_Accumulation(t *testing.T) {
	const size = 8
	const mu = 0.5

	m, err := compressor.NewVanilla(newLossless(t, size), mu)
	require.NoError(t, err)

	g1 := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	g2 := []float32{8, 7, 6, 5, 4, 3, 2, 1}

	// Round 1: buffer starts at zero, so momentum == g1 and g1 is what gets
	// compressed.
	p1, err := m.Compress(float32View(t, g1))
	require.NoError(t, err)
	dec1, err := m.Decompress(p1)
	require.NoError(t, err)
	require.Equal(t, g1, testutil.Float32s(dec1.Data))

	// Round 2: momentum == mu*g1 + g2, and that buffer, not raw g2, is
	// forwarded into the wrapped compressor.
	want := make([]float32, size)
	for i := range want {
		want[i] = mu*g1[i] + g2[i]
	}
	p2, err := m.Compress(float32View(t, g2))
	require.NoError(t, err)
	dec2, err := m.Decompress(p2)
	require.NoError(t, err)
	require.Equal(t, want, testutil.Float32s(dec2.Data))

	state, err := m.State(compressor.Float32)
	require.NoError(t, err)
	require.Equal(t, want, testutil.Float32s(state.Data))
}

func TestVanillaMomentum_Float64(t *testing.T) {
	const size = 4
	const mu = 0.9

	m, err := compressor.NewVanilla(newLossless(t, size), mu)
	require.NoError(t, err)

	g := []float64{1, -2, 0.5, 4}
	data := testutil.Float64Bytes(g)
	v, err := compressor.NewTensorView(data, compressor.Float64)
	require.NoError(t, err)

	_, err = m.Compress(v)
	require.NoError(t, err)
	_, err = m.Compress(v)
	require.NoError(t, err)

	state, err := m.State(compressor.Float64)
	require.NoError(t, err)
	got := testutil.Float64s(state.Data)
	for i := range g {
		require.InDelta(t, mu*g[i]+g[i], got[i], 1e-12)
	}
}

func TestMomentum_CustomUpdateRule(t *testing.T) {
	const size = 4

	// A variant that ignores the buffer and forwards the raw gradient:
	// the decorator must compress exactly what the hook returns.
	passthrough := func(grad, _ compressor.TensorView) (compressor.TensorView, error) {
		return grad, nil
	}

	m, err := compressor.NewMomentum(newLossless(t, size), passthrough)
	require.NoError(t, err)

	g := []float32{1, 2, 3, 4}
	p, err := m.Compress(float32View(t, g))
	require.NoError(t, err)
	dec, err := m.Decompress(p)
	require.NoError(t, err)
	require.Equal(t, g, testutil.Float32s(dec.Data))

	// The untouched buffer stays zero.
	state, err := m.State(compressor.Float32)
	require.NoError(t, err)
	require.Equal(t, make([]float32, size), testutil.Float32s(state.Data))
}

func TestMomentum_ForwardsErrorUpdates(t *testing.T) {
	const size, k = 16, 4

	inner, err := compressor.NewRandomK(size, k, 42, true)
	require.NoError(t, err)
	m, err := compressor.NewVanilla(inner, 0.9)
	require.NoError(t, err)

	vals := make([]float32, size)
	testutil.NewRNG(29).FillUniform(vals, -1, 1)
	corrected := float32View(t, vals)

	packed, err := m.Compress(corrected)
	require.NoError(t, err)

	errView := float32View(t, make([]float32, size))
	require.NoError(t, m.FastUpdateError(errView, corrected, packed))

	idxs, err := inner.Indices(packed)
	require.NoError(t, err)
	got := testutil.Float32s(errView.Data)
	for _, idx := range idxs {
		require.Zero(t, got[idx])
	}
}

func TestMomentum_StateRestore(t *testing.T) {
	const size = 4

	m, err := compressor.NewVanilla(newLossless(t, size), 0.5)
	require.NoError(t, err)

	saved := []float32{1, 2, 3, 4}
	require.NoError(t, m.SetState(float32View(t, saved)))

	state, err := m.State(compressor.Float32)
	require.NoError(t, err)
	require.Equal(t, saved, testutil.Float32s(state.Data))

	// Next round accumulates on top of the restored buffer.
	g := []float32{10, 10, 10, 10}
	p, err := m.Compress(float32View(t, g))
	require.NoError(t, err)
	dec, err := m.Decompress(p)
	require.NoError(t, err)

	want := make([]float32, size)
	for i := range want {
		want[i] = 0.5*saved[i] + g[i]
	}
	require.Equal(t, want, testutil.Float32s(dec.Data))
}

func TestMomentum_Construction(t *testing.T) {
	inner := newLossless(t, 4)

	_, err := compressor.NewMomentum(nil, compressor.Vanilla(0.5))
	require.Error(t, err)

	_, err = compressor.NewMomentum(inner, nil)
	require.Error(t, err)

	m, err := compressor.NewVanilla(inner, 0.5)
	require.NoError(t, err)
	require.Equal(t, 4, m.Size())
}

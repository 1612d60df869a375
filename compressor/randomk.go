package compressor

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
)

// RandomK sparsifies a gradient by transmitting a uniformly random subset of
// exactly k entries per round, as (index, value) records.
//
// Selection uses a partial Fisher-Yates shuffle over a persistent permutation
// buffer: every call draws k unique indices in O(k) and advances the generator
// state, so no index repeats within one packed buffer and consecutive calls
// produce fresh draws. Two deterministic instances built with the same seed and
// fed the same call sequence emit byte-identical packed buffers; that is the
// only cross-worker index agreement this type offers.
//
// Paper: Sparsified SGD with Memory, https://arxiv.org/pdf/1809.07599.pdf
type RandomK struct {
	size int
	k    int
	iw   int
	rng  *rand.Rand
	perm []int
	scratch
}

var _ Compressor = (*RandomK)(nil)

// NewRandomK builds a RandomK compressor for gradients of size elements,
// keeping k of them per round.
//
// With deterministic set, the generator is seeded with seed and the draw
// sequence is fully reproducible. Otherwise seed is ignored and the generator
// is seeded exactly once, here, from the system entropy source; it is never
// reseeded afterward.
func NewRandomK(size, k int, seed int64, deterministic bool) (*RandomK, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size %d: %w", size, ErrInvalidSize)
	}
	if k <= 0 || k > size {
		return nil, fmt.Errorf("k %d with size %d: %w", k, size, ErrInvalidK)
	}
	if !deterministic {
		var b [8]byte
		if _, err := crand.Read(b[:]); err != nil {
			return nil, fmt.Errorf("seed compressor from entropy source: %w", err)
		}
		seed = int64(binary.LittleEndian.Uint64(b[:]))
	}
	c := &RandomK{
		size: size,
		k:    k,
		iw:   indexWidth(size),
		rng:  rand.New(rand.NewSource(seed)),
		perm: make([]int, size),
	}
	for i := range c.perm {
		c.perm[i] = i
	}
	c.scratch = newScratch(size, k, c.iw)
	return c, nil
}

// Size returns the configured element count.
func (c *RandomK) Size() int {
	return c.size
}

// Compress draws k unique indices and packs the corresponding gradient entries
// as [index][value] records. The record layout depends only on byte widths, so
// every supported dtype goes through this one path.
func (c *RandomK) Compress(grad TensorView) (Packed, error) {
	if err := grad.check(c.size); err != nil {
		return Packed{}, fmt.Errorf("compress: %w", err)
	}
	es := grad.DType.Size()
	rec := c.iw + es
	out := c.packed[:c.k*rec]
	for i := 0; i < c.k; i++ {
		j := i + c.rng.Intn(c.size-i)
		c.perm[i], c.perm[j] = c.perm[j], c.perm[i]
		idx := c.perm[i]

		off := i * rec
		putIndex(out[off:], c.iw, uint64(idx))
		copy(out[off+c.iw:off+rec], grad.Data[idx*es:(idx+1)*es])
	}
	return Packed{Data: out, Records: c.k, DType: grad.DType}, nil
}

// Decompress zero-fills a size-element output and scatters each record's value
// to its index. Cost is O(size) for the fill plus O(k) for the scatter.
func (c *RandomK) Decompress(p Packed) (TensorView, error) {
	es, rec, err := c.checkPacked(p)
	if err != nil {
		return TensorView{}, fmt.Errorf("decompress: %w", err)
	}
	out := c.unpacked[:c.size*es]
	clear(out)
	for i := 0; i < p.Records; i++ {
		off := i * rec
		idx := int(getIndex(p.Data[off:], c.iw))
		if idx >= c.size {
			return TensorView{}, fmt.Errorf("decompress: record %d index %d out of range: %w", i, idx, ErrMalformedPacked)
		}
		copy(out[idx*es:(idx+1)*es], p.Data[off+c.iw:off+rec])
	}
	return TensorView{Data: out, Count: c.size, DType: p.DType}, nil
}

// UpdateError rewrites errBuf to corrected minus decompress(p). This is the
// reference path; it re-derives the selection by reconstructing the full
// tensor. Prefer FastUpdateError on the hot path.
func (c *RandomK) UpdateError(errBuf, corrected TensorView, p Packed) error {
	if err := c.checkErrPair(errBuf, corrected, p); err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	dec, err := c.Decompress(p)
	if err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	if err := sub(p.DType, errBuf.Data, corrected.Data, dec.Data, c.size); err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}

// FastUpdateError copies corrected into errBuf and zeroes the entries at every
// index recorded in p, leaving exactly the untransmitted residual. The
// selection is read straight from the packed buffer, never recomputed: O(size)
// copy plus O(k) zeroing, no arithmetic.
func (c *RandomK) FastUpdateError(errBuf, corrected TensorView, p Packed) error {
	if err := c.checkErrPair(errBuf, corrected, p); err != nil {
		return fmt.Errorf("fast update error: %w", err)
	}
	es, rec, err := c.checkPacked(p)
	if err != nil {
		return fmt.Errorf("fast update error: %w", err)
	}
	copy(errBuf.Data[:c.size*es], corrected.Data[:c.size*es])
	for i := 0; i < p.Records; i++ {
		off := i * rec
		idx := int(getIndex(p.Data[off:], c.iw))
		if idx >= c.size {
			return fmt.Errorf("fast update error: record %d index %d out of range: %w", i, idx, ErrMalformedPacked)
		}
		clear(errBuf.Data[idx*es : (idx+1)*es])
	}
	return nil
}

// Indices returns the record indices of p in selection order.
func (c *RandomK) Indices(p Packed) ([]int, error) {
	_, rec, err := c.checkPacked(p)
	if err != nil {
		return nil, fmt.Errorf("indices: %w", err)
	}
	out := make([]int, p.Records)
	for i := range out {
		idx := int(getIndex(p.Data[i*rec:], c.iw))
		if idx >= c.size {
			return nil, fmt.Errorf("indices: record %d index %d out of range: %w", i, idx, ErrMalformedPacked)
		}
		out[i] = idx
	}
	return out, nil
}

func (c *RandomK) checkPacked(p Packed) (es, rec int, err error) {
	es = p.DType.Size()
	if es == 0 {
		return 0, 0, fmt.Errorf("%s: %w", p.DType, ErrUnsupportedDType)
	}
	rec = c.iw + es
	if p.Records != c.k {
		return 0, 0, fmt.Errorf("got %d records, expected %d: %w", p.Records, c.k, ErrMalformedPacked)
	}
	if len(p.Data) != c.k*rec {
		return 0, 0, fmt.Errorf("got %d packed bytes, expected %d: %w", len(p.Data), c.k*rec, ErrMalformedPacked)
	}
	return es, rec, nil
}

func (c *RandomK) checkErrPair(errBuf, corrected TensorView, p Packed) error {
	if err := errBuf.check(c.size); err != nil {
		return err
	}
	if err := corrected.check(c.size); err != nil {
		return err
	}
	if errBuf.DType != p.DType || corrected.DType != p.DType {
		return fmt.Errorf("error %s, corrected %s, packed %s: %w",
			errBuf.DType, corrected.DType, p.DType, ErrDTypeMismatch)
	}
	return nil
}

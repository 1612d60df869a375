// Package f16 converts between IEEE-754 binary16 bit-patterns and float32.
//
// Gradients stored as float16 go through these conversions at the dispatch
// boundary; all arithmetic happens in wider floats.
package f16

import "math"

const (
	f16SignMask uint16 = 0x8000
	f16ExpMask  uint16 = 0x7C00
	f16FracMask uint16 = 0x03FF

	f32ExpMask  uint32 = 0x7F80_0000
	f32FracMask uint32 = 0x007F_FFFF
)

// Decode converts a binary16 bit-pattern to float32.
func Decode(h uint16) float32 {
	sign := uint32(h&f16SignMask) << 16
	exp := int32(h&f16ExpMask) >> 10
	frac := uint32(h & f16FracMask)

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign) // signed zero
		}
		// Subnormal half: value is frac * 2^-24. Scale through a float
		// multiply instead of renormalizing bits by hand.
		v := float32(frac) * float32(1.0/(1<<24))
		if sign != 0 {
			v = -v
		}
		return v
	case 0x1F:
		if frac == 0 {
			return math.Float32frombits(sign | f32ExpMask) // infinity
		}
		return math.Float32frombits(sign | f32ExpMask | frac<<13) // NaN, payload kept
	default:
		return math.Float32frombits(sign | uint32(exp-15+127)<<23 | frac<<13)
	}
}

// Encode converts a float32 to the nearest binary16 bit-pattern,
// round-to-nearest with ties-to-even. Overflow becomes infinity.
func Encode(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & f16SignMask
	exp := int32(bits&f32ExpMask) >> 23
	frac := bits & f32FracMask

	if exp == 0xFF { // Inf or NaN
		if frac == 0 {
			return sign | f16ExpMask
		}
		h := sign | f16ExpMask | uint16(frac>>13)
		if h&f16FracMask == 0 {
			h |= 1 // keep NaN from collapsing to Inf
		}
		return h
	}

	// Exponent rebased to the half bias.
	e := exp - 127 + 15
	switch {
	case e >= 0x1F:
		return sign | f16ExpMask // overflow
	case e <= 0:
		if e < -10 {
			return sign // underflow to signed zero
		}
		// Subnormal result: shift the full 24-bit significand into place.
		m := frac | 0x0080_0000
		shift := uint32(14 - e)
		h := uint16(m >> shift)
		if roundUp(m, shift, h) {
			h++
		}
		return sign | h
	default:
		h := sign | uint16(e)<<10 | uint16(frac>>13)
		if roundUp(frac, 13, h) {
			h++ // may carry into the exponent, which is exactly right
		}
		return h
	}
}

// roundUp reports whether dropping the low shift bits of m should round the
// truncated result cur up (round-to-nearest, ties-to-even).
func roundUp(m uint32, shift uint32, cur uint16) bool {
	half := uint32(1) << (shift - 1)
	rem := m & (1<<shift - 1)
	if rem > half {
		return true
	}
	return rem == half && cur&1 == 1
}

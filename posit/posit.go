// Package posit encodes float32 values as posit<Bits, ES> bit patterns, a tapered
// precision format that spends more bits on values near 1 and fewer on values
// far from it. Patterns are returned right aligned in a uint32.
package posit

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// mantBits is the number of fraction bits of a float32.
const mantBits = 23

// Scale is the format used for a persisted global scale factor. Scales are
// always positive, so the sign bit is zero and the pattern fits in 8 bits.
var Scale = MustFormat(9, 1)

// Format is a posit width and exponent size.
type Format struct {
	Bits uint // total width in bits, sign included
	ES   uint // exponent field width
}

// NewFormat validates a posit format. The largest representable value,
// 2^((2^es)·(bits-2)), must also be representable as a float32.
func NewFormat(bits, es uint) (Format, error) {
	if bits < 2 || bits > 32 {
		return Format{}, errors.Errorf("posit width %d out of range [2, 32]", bits)
	}
	if es > 6 || (uint(1)<<es)*(bits-2) > 127 {
		return Format{}, errors.Errorf("posit<%d,%d> has a dynamic range larger than float32", bits, es)
	}
	return Format{Bits: bits, ES: es}, nil
}

// MustFormat is NewFormat that panics on an invalid format.
func MustFormat(bits, es uint) Format {
	f, err := NewFormat(bits, es)
	if err != nil {
		panic(err)
	}
	return f
}

func (f Format) mask() uint64       { return uint64(1)<<f.Bits - 1 }
func (f Format) maxPattern() uint64 { return uint64(1)<<(f.Bits-1) - 1 }
func (f Format) maxScale() int      { return (1 << f.ES) * int(f.Bits-2) }

// NaR is the "not a real" pattern.
func (f Format) NaR() uint32 { return uint32(1) << (f.Bits - 1) }

// MaxPos is the largest positive value of the format.
func (f Format) MaxPos() float32 { return float32(math.Ldexp(1, f.maxScale())) }

// MinPos is the smallest positive value of the format.
func (f Format) MinPos() float32 { return float32(math.Ldexp(1, -f.maxScale())) }

// Encode rounds x to the nearest posit, ties to even. Zero maps to zero, NaN
// and infinities map to NaR. Magnitudes beyond MaxPos saturate and nonzero
// magnitudes below MinPos round to MinPos; a posit never rounds to zero.
func (f Format) Encode(x float32) uint32 {
	if x == 0 {
		return 0
	}
	if math32.IsNaN(x) || math32.IsInf(x, 0) {
		return f.NaR()
	}
	a := float64(math32.Abs(x))

	var p uint64
	switch {
	case a >= float64(f.MaxPos()):
		p = f.maxPattern()
	case a <= float64(f.MinPos()):
		p = 1
	default:
		m, e := math.Frexp(a)
		m *= 2
		e--
		k := e >> f.ES
		exp := e - k<<f.ES

		var regime uint64
		var regimeLen uint
		if k >= 0 {
			regime = (uint64(1)<<(uint(k)+1) - 1) << 1
			regimeLen = uint(k) + 2
		} else {
			regime = 1
			regimeLen = uint(-k) + 1
		}
		frac := uint64((m - 1) * (1 << mantBits))
		bits := ((regime<<f.ES | uint64(exp)) << mantBits) | frac
		length := regimeLen + f.ES + mantBits

		keep := f.Bits - 1
		if length <= keep {
			p = bits << (keep - length)
		} else {
			shift := length - keep
			p = bits >> shift
			rem := bits & (uint64(1)<<shift - 1)
			half := uint64(1) << (shift - 1)
			if rem > half || (rem == half && p&1 == 1) {
				p++
			}
		}
		if p == 0 {
			p = 1
		}
		if p > f.maxPattern() {
			p = f.maxPattern()
		}
	}
	if x < 0 {
		p = -p & f.mask()
	}
	return uint32(p)
}

// Ceil returns the smallest posit not below x for positive x. For other
// values it is Encode.
func (f Format) Ceil(x float32) uint32 {
	p := f.Encode(x)
	if x > 0 && uint64(p) < f.maxPattern() && f.Decode(p) < x {
		p++
	}
	return p
}

// Decode returns the value of pattern p. Bits above the format width are
// ignored. NaR decodes to NaN.
func (f Format) Decode(p uint32) float32 {
	n := f.Bits
	q := uint64(p) & f.mask()
	if q == 0 {
		return 0
	}
	if q == uint64(f.NaR()) {
		return math32.NaN()
	}
	neg := q>>(n-1)&1 == 1
	if neg {
		q = -q & f.mask()
	}

	// regime: a run of identical bits after the sign
	i := int(n) - 2
	first := q >> uint(i) & 1
	run := 0
	for i >= 0 && q>>uint(i)&1 == first {
		run++
		i--
	}
	k := -run
	if first == 1 {
		k = run - 1
	}
	left := i // bits remaining after the regime terminator
	if left < 0 {
		left = 0
	}

	exp := 0
	for j := uint(0); j < f.ES; j++ {
		exp <<= 1
		if left > 0 {
			exp |= int(q >> uint(left-1) & 1)
			left--
		}
	}
	fracBits := uint(left)
	frac := q & (uint64(1)<<fracBits - 1)
	v := math.Ldexp(1+float64(frac)/float64(uint64(1)<<fracBits), k<<f.ES+exp)
	if neg {
		v = -v
	}
	return float32(v)
}

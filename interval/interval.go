// Package interval implements the closed integer intervals used by the
// range-based analyses: bounds on qualitative network variables and the
// conservative arithmetic the range evaluator runs on them.
package interval

import (
	"errors"
	"fmt"
)

// ErrZeroDivisor indicates a division whose divisor can only be zero.
var ErrZeroDivisor = errors.New("division by zero interval")

// Interval is a closed integer interval [Lo, Hi] with Lo <= Hi.
type Interval struct {
	Lo, Hi int
}

// New constructs an interval from two endpoints, ordering them if needed.
func New(lo, hi int) Interval {
	if lo > hi {
		lo, hi = hi, lo
	}
	return Interval{Lo: lo, Hi: hi}
}

// Point returns the single-value interval {v}.
func Point(v int) Interval {
	return Interval{Lo: v, Hi: v}
}

// IsPoint reports whether the interval contains exactly one value.
func (iv Interval) IsPoint() bool { return iv.Lo == iv.Hi }

// Contains reports whether v lies within the interval.
func (iv Interval) Contains(v int) bool { return iv.Lo <= v && v <= iv.Hi }

// Width returns Hi - Lo; zero for a point interval.
func (iv Interval) Width() int { return iv.Hi - iv.Lo }

// Clamp maps v onto the nearest value inside the interval.
func (iv Interval) Clamp(v int) int {
	if v < iv.Lo {
		return iv.Lo
	}
	if v > iv.Hi {
		return iv.Hi
	}
	return v
}

func (iv Interval) String() string {
	if iv.IsPoint() {
		return fmt.Sprintf("[%d]", iv.Lo)
	}
	return fmt.Sprintf("[%d,%d]", iv.Lo, iv.Hi)
}

// Intersect returns the overlap of two intervals. The second return value
// is false when the intervals are disjoint.
func (iv Interval) Intersect(other Interval) (Interval, bool) {
	lo := iv.Lo
	if other.Lo > lo {
		lo = other.Lo
	}
	hi := iv.Hi
	if other.Hi < hi {
		hi = other.Hi
	}
	if lo > hi {
		return Interval{}, false
	}
	return Interval{Lo: lo, Hi: hi}, true
}

// Hull returns the smallest interval covering both inputs.
func (iv Interval) Hull(other Interval) Interval {
	lo := iv.Lo
	if other.Lo < lo {
		lo = other.Lo
	}
	hi := iv.Hi
	if other.Hi > hi {
		hi = other.Hi
	}
	return Interval{Lo: lo, Hi: hi}
}

// ClampInto maps the whole interval through Clamp against bounds. Clamp is
// monotone, so the image is again an interval and is never empty.
func (iv Interval) ClampInto(bounds Interval) Interval {
	return Interval{Lo: bounds.Clamp(iv.Lo), Hi: bounds.Clamp(iv.Hi)}
}

// Add returns the sum interval.
func (iv Interval) Add(other Interval) Interval {
	return Interval{Lo: iv.Lo + other.Lo, Hi: iv.Hi + other.Hi}
}

// Sub returns the difference interval.
func (iv Interval) Sub(other Interval) Interval {
	return Interval{Lo: iv.Lo - other.Hi, Hi: iv.Hi - other.Lo}
}

// Neg returns the negated interval.
func (iv Interval) Neg() Interval {
	return Interval{Lo: -iv.Hi, Hi: -iv.Lo}
}

// Mul returns the product interval: the hull of the four endpoint products.
func (iv Interval) Mul(other Interval) Interval {
	products := [4]int{
		iv.Lo * other.Lo,
		iv.Lo * other.Hi,
		iv.Hi * other.Lo,
		iv.Hi * other.Hi,
	}
	lo, hi := products[0], products[0]
	for _, p := range products[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	return Interval{Lo: lo, Hi: hi}
}

// Min returns the pointwise minimum interval.
func (iv Interval) Min(other Interval) Interval {
	lo := iv.Lo
	if other.Lo < lo {
		lo = other.Lo
	}
	hi := iv.Hi
	if other.Hi < hi {
		hi = other.Hi
	}
	return Interval{Lo: lo, Hi: hi}
}

// Max returns the pointwise maximum interval.
func (iv Interval) Max(other Interval) Interval {
	lo := iv.Lo
	if other.Lo > lo {
		lo = other.Lo
	}
	hi := iv.Hi
	if other.Hi > hi {
		hi = other.Hi
	}
	return Interval{Lo: lo, Hi: hi}
}

// Div returns the integer hull of the quotients iv/other, covering every
// value that floor or ceil of the true quotient can take.
//
// When the divisor is exactly {0} the division is impossible and
// ErrZeroDivisor is returned. When the divisor merely straddles zero, the
// zero executions are excluded from the hull and sound is false so the
// caller can surface a warning instead of failing.
func (iv Interval) Div(other Interval) (q Interval, sound bool, err error) {
	if other.Lo == 0 && other.Hi == 0 {
		return Interval{}, false, ErrZeroDivisor
	}
	if other.Lo > 0 || other.Hi < 0 {
		return iv.divSigned(other), true, nil
	}

	// Divisor straddles zero: take the hull over its strictly negative and
	// strictly positive parts.
	var parts []Interval
	if other.Lo < 0 {
		parts = append(parts, Interval{Lo: other.Lo, Hi: -1})
	}
	if other.Hi > 0 {
		parts = append(parts, Interval{Lo: 1, Hi: other.Hi})
	}
	q = iv.divSigned(parts[0])
	for _, p := range parts[1:] {
		q = q.Hull(iv.divSigned(p))
	}
	return q, false, nil
}

// divSigned computes the quotient hull for a divisor interval that does not
// contain zero. The true quotient is monotone in each endpoint, so the
// extremes occur at the four corners; floor of the minimum corner and ceil
// of the maximum corner give the integer hull.
func (iv Interval) divSigned(other Interval) Interval {
	lo := floorDiv(iv.Lo, other.Lo)
	hi := ceilDiv(iv.Lo, other.Lo)
	for _, a := range [2]int{iv.Lo, iv.Hi} {
		for _, b := range [2]int{other.Lo, other.Hi} {
			if f := floorDiv(a, b); f < lo {
				lo = f
			}
			if c := ceilDiv(a, b); c > hi {
				hi = c
			}
		}
	}
	return Interval{Lo: lo, Hi: hi}
}

// ---- 0/1-valued comparisons and connectives ----

// zeroOne is the full truth-value interval.
var zeroOne = Interval{Lo: 0, Hi: 1}

// Eq returns the interval of 1{a=b}: {1} when both are the same point,
// {0} when the intervals are disjoint, [0,1] otherwise.
func (iv Interval) Eq(other Interval) Interval {
	if iv.IsPoint() && other.IsPoint() && iv.Lo == other.Lo {
		return Point(1)
	}
	if iv.Hi < other.Lo || other.Hi < iv.Lo {
		return Point(0)
	}
	return zeroOne
}

// Neq returns the interval of 1{a!=b}.
func (iv Interval) Neq(other Interval) Interval {
	return Point(1).Sub(iv.Eq(other))
}

// Gt returns the interval of 1{a>b}.
func (iv Interval) Gt(other Interval) Interval {
	if iv.Lo > other.Hi {
		return Point(1)
	}
	if iv.Hi <= other.Lo {
		return Point(0)
	}
	return zeroOne
}

// Geq returns the interval of 1{a>=b}.
func (iv Interval) Geq(other Interval) Interval {
	if iv.Lo >= other.Hi {
		return Point(1)
	}
	if iv.Hi < other.Lo {
		return Point(0)
	}
	return zeroOne
}

// Lt returns the interval of 1{a<b}.
func (iv Interval) Lt(other Interval) Interval { return other.Gt(iv) }

// Leq returns the interval of 1{a<=b}.
func (iv Interval) Leq(other Interval) Interval { return other.Geq(iv) }

// Truth maps the interval to the truth values it can take, where any
// nonzero value counts as true: {1} when zero is excluded, {0} for the
// zero point, [0,1] otherwise.
func (iv Interval) Truth() Interval {
	if !iv.Contains(0) {
		return Point(1)
	}
	if iv.IsPoint() {
		return Point(0)
	}
	return zeroOne
}

// And is the conjunction min(truth(a), truth(b)).
func (iv Interval) And(other Interval) Interval {
	return iv.Truth().Min(other.Truth())
}

// Or is the disjunction max(truth(a), truth(b)).
func (iv Interval) Or(other Interval) Interval {
	return iv.Truth().Max(other.Truth())
}

// Not is the negation 1 - truth(a).
func (iv Interval) Not() Interval {
	return Point(1).Sub(iv.Truth())
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// ceilDiv divides rounding toward positive infinity.
func ceilDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) == (b < 0) {
		q++
	}
	return q
}

package math

import "golang.org/x/exp/constraints"

// Clamp returns f limited to the range [low, high].
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// ClampLimit is Clamp for limits where a zero high means "no upper bound",
// as with surface image counts.
func ClampLimit[T constraints.Integer | constraints.Float](f, low, high T) T {
	if high == 0 {
		return max(f, low)
	}
	return Clamp(f, low, high)
}

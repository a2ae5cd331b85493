package mathx

import (
	"math"

	"golang.org/x/exp/constraints"
)

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Positive reports whether v is finite and strictly greater than zero.
func Positive(v float64) bool {
	return Finite(v) && v > 0
}

// NonNegative returns v when it is finite and >= 0, otherwise 0.
func NonNegative(v float64) float64 {
	if !Finite(v) || v < 0 {
		return 0
	}
	return v
}

func Abs[T constraints.Signed | constraints.Float](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

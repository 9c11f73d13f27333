package metadata

import "golang.org/x/exp/constraints"

// GetAligned rounds operand up to a power of two granularity.
func GetAligned[T constraints.Unsigned](operand, granularity T) T {
	return (operand + (granularity - 1)) &^ (granularity - 1)
}

// Clamp returns the value `f` clamped to the range [low, high].
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

package math

import "golang.org/x/exp/constraints"

type Number interface {
	constraints.Integer | constraints.Float
}

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// Ratio returns part/(part+rest) as a float64 in [0, 1], or 0 when both are zero.
func Ratio[T Number](part, rest T) float64 {
	total := float64(part) + float64(rest)
	if total <= 0 {
		return 0
	}
	return Clamp(float64(part)/total, 0, 1)
}

// ArgMin returns the index of the smallest value, the lowest index on ties.
// It returns -1 for an empty slice.
func ArgMin[T constraints.Ordered](values []T) int {
	if len(values) == 0 {
		return -1
	}
	idx := 0
	for i := 1; i < len(values); i++ {
		if values[i] < values[idx] {
			idx = i
		}
	}
	return idx
}

package common

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Statistical helpers shared by the extractor, the model and the engines.

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// Max returns the largest element, or 0 for an empty slice.
func Max(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Max(data)
}

// MeanSquaredError returns mean((a - b)^2) over the common length.
func MeanSquaredError(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0.0
	}

	sum := 0.0
	for i := range n {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum / float64(n)
}

// CountAbove returns how many values are strictly greater than limit.
func CountAbove(data []float64, limit float64) int {
	count := 0
	for _, v := range data {
		if v > limit {
			count++
		}
	}
	return count
}

// Clamp constrains a value to a range
func Clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

// ClampInPlace constrains every element of data to [lo, hi].
func ClampInPlace(data []float64, lo, hi float64) {
	for i, v := range data {
		data[i] = Clamp(v, lo, hi)
	}
}

// IsFinite reports whether every element is neither NaN nor infinite.
func IsFinite(data []float64) bool {
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

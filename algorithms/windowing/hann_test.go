package windowing

import (
	"math"
	"testing"
)

func TestPeriodicHannEndpoints(t *testing.T) {
	h := NewPeriodicHann(8)
	c := h.GetCoefficients()
	if c[0] != 0 {
		t.Fatalf("c[0] = %v, want 0", c[0])
	}
	// Periodic: the peak sits at n/2 and the last sample is not zero.
	if math.Abs(c[4]-1) > 1e-12 {
		t.Fatalf("c[4] = %v, want 1", c[4])
	}
	if c[7] == 0 {
		t.Fatal("periodic window must not end at zero")
	}
}

func TestSymmetricHannEndsAtZero(t *testing.T) {
	c := NewHann(9, true).GetCoefficients()
	if math.Abs(c[8]) > 1e-12 || math.Abs(c[4]-1) > 1e-12 {
		t.Fatalf("unexpected coefficients %v", c)
	}
}

func TestApplyInPlaceLengthMismatch(t *testing.T) {
	if err := NewPeriodicHann(4).ApplyInPlace(make([]float64, 3)); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

package common

import (
	"math"
	"testing"
)

func TestMeanSquaredError(t *testing.T) {
	got := MeanSquaredError([]float64{1, 2, 3, 4}, []float64{1, 2, 3, 2})
	if got != 1 {
		t.Fatalf("MeanSquaredError = %v, want 1", got)
	}
	if MeanSquaredError(nil, nil) != 0 {
		t.Fatal("empty input should give 0")
	}
}

func TestCountAboveIsStrict(t *testing.T) {
	if got := CountAbove([]float64{0.1, 0.2, 0.3}, 0.2); got != 1 {
		t.Fatalf("CountAbove = %d, want 1", got)
	}
}

func TestClampInPlace(t *testing.T) {
	data := []float64{-0.5, 0.25, 1.5}
	ClampInPlace(data, 0, 1)
	want := []float64{0, 0.25, 1}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("data = %v, want %v", data, want)
		}
	}
}

func TestStats(t *testing.T) {
	data := []float64{4, 1, 3, 2}
	if Mean(data) != 2.5 {
		t.Fatalf("Mean = %v", Mean(data))
	}
	if Max(data) != 4 {
		t.Fatalf("Max = %v", Max(data))
	}
	if IsFinite([]float64{1, math.NaN()}) {
		t.Fatal("NaN reported finite")
	}
}

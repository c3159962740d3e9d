package spectral

import (
	"github.com/mjibson/go-dsp/fft"
)

// FFT provides Fast Fourier Transform functionality
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// ComputePower returns |X[k]|^2 for the non-negative frequency bins
// (len(x)/2 + 1 values) into dst, allocating when dst is too short.
func (f *FFT) ComputePower(x []float64, dst []float64) []float64 {
	bins := len(x)/2 + 1
	if cap(dst) < bins {
		dst = make([]float64, bins)
	}
	dst = dst[:bins]
	if len(x) == 0 {
		return dst[:0]
	}

	spectrum := fft.FFTReal(x)
	for k := range bins {
		re, im := real(spectrum[k]), imag(spectrum[k])
		dst[k] = re*re + im*im
	}
	return dst
}

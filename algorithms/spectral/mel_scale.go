package spectral

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// MelFormula selects the Hz <-> mel mapping.
type MelFormula string

const (
	// MelHTK is 2595*log10(1 + f/700).
	MelHTK MelFormula = "htk"
	// MelSlaney is linear below 1 kHz and logarithmic above (Auditory Toolbox).
	MelSlaney MelFormula = "slaney"
)

// MelNorm selects per-filter weighting.
type MelNorm string

const (
	MelNormNone MelNorm = "none"
	// MelNormSlaney scales each triangle to unit area so wide high-frequency
	// filters do not dominate.
	MelNormSlaney MelNorm = "slaney"
)

const (
	slaneyFSp       = 200.0 / 3
	slaneyMinLogHz  = 1000.0
	slaneyMinLogMel = slaneyMinLogHz / slaneyFSp
)

var slaneyLogStep = math.Log(6.4) / 27.0

// MelScale provides mel frequency conversion utilities
type MelScale struct {
	formula MelFormula
	norm    MelNorm
}

// NewMelScale creates a new mel scale converter
func NewMelScale(formula MelFormula, norm MelNorm) (*MelScale, error) {
	switch formula {
	case MelHTK, MelSlaney:
	case "":
		formula = MelSlaney
	default:
		return nil, fmt.Errorf("unknown mel formula %q", formula)
	}
	switch norm {
	case MelNormNone, MelNormSlaney:
	case "":
		norm = MelNormSlaney
	default:
		return nil, fmt.Errorf("unknown mel norm %q", norm)
	}
	return &MelScale{formula: formula, norm: norm}, nil
}

// HzToMel converts frequency in Hz to mel scale
func (ms *MelScale) HzToMel(hz float64) float64 {
	if ms.formula == MelHTK {
		return 2595.0 * math.Log10(1.0+hz/700.0)
	}
	if hz >= slaneyMinLogHz {
		return slaneyMinLogMel + math.Log(hz/slaneyMinLogHz)/slaneyLogStep
	}
	return hz / slaneyFSp
}

// MelToHz converts mel scale to frequency in Hz
func (ms *MelScale) MelToHz(mel float64) float64 {
	if ms.formula == MelHTK {
		return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
	}
	if mel >= slaneyMinLogMel {
		return slaneyMinLogHz * math.Exp(slaneyLogStep*(mel-slaneyMinLogMel))
	}
	return slaneyFSp * mel
}

// CreateMelFilterBank creates a [numFilters][fftSize/2+1] bank of triangular
// filters whose edges are equally spaced on the mel axis between lowFreq and
// highFreq. Weights are evaluated at the exact FFT bin frequencies rather than
// snapped to bin indices, so narrow low-frequency filters never vanish.
func (ms *MelScale) CreateMelFilterBank(numFilters int, fftSize int, sampleRate int, lowFreq, highFreq float64) ([][]float64, error) {
	if numFilters <= 0 || fftSize <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid filter bank geometry: filters=%d fft=%d rate=%d", numFilters, fftSize, sampleRate)
	}
	nyquist := float64(sampleRate) / 2
	if highFreq <= 0 || highFreq > nyquist {
		highFreq = nyquist
	}
	if lowFreq < 0 || lowFreq >= highFreq {
		return nil, fmt.Errorf("invalid frequency range [%g, %g]", lowFreq, highFreq)
	}

	bins := fftSize/2 + 1
	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / float64(fftSize)
	}

	// numFilters + 2 edge frequencies, equally spaced in mel
	lowMel := ms.HzToMel(lowFreq)
	highMel := ms.HzToMel(highFreq)
	edges := make([]float64, numFilters+2)
	melStep := (highMel - lowMel) / float64(numFilters+1)
	for i := range edges {
		edges[i] = ms.MelToHz(lowMel + float64(i)*melStep)
	}

	filterBank := make([][]float64, numFilters)
	for m := range numFilters {
		lower, center, upper := edges[m], edges[m+1], edges[m+2]
		filter := make([]float64, bins)
		for k, f := range fftFreqs {
			rising := (f - lower) / (center - lower)
			falling := (upper - f) / (upper - center)
			filter[k] = math.Max(0, math.Min(rising, falling))
		}
		if ms.norm == MelNormSlaney {
			floats.Scale(2.0/(upper-lower), filter)
		}
		filterBank[m] = filter
	}

	return filterBank, nil
}

// ApplyFilterBank applies mel filter bank to power spectrum
func (ms *MelScale) ApplyFilterBank(powerSpectrum []float64, filterBank [][]float64) []float64 {
	if len(filterBank) == 0 || len(powerSpectrum) == 0 {
		return []float64{}
	}

	melSpectrum := make([]float64, len(filterBank))
	for i, filter := range filterBank {
		n := min(len(filter), len(powerSpectrum))
		melSpectrum[i] = floats.Dot(filter[:n], powerSpectrum[:n])
	}

	return melSpectrum
}

// MelSpectrogram projects a [frames][bins] power spectrogram through the
// bank and returns it transposed as [bands][frames].
func (ms *MelScale) MelSpectrogram(power [][]float64, filterBank [][]float64) [][]float64 {
	mel := make([][]float64, len(filterBank))
	for b := range mel {
		mel[b] = make([]float64, len(power))
	}

	for t, frame := range power {
		for b, v := range ms.ApplyFilterBank(frame, filterBank) {
			mel[b][t] = v
		}
	}

	return mel
}

// Package melspec slices a waveform into fixed one-window spectrogram images
// normalized to [0, 1].
package melspec

import (
	"errors"
	"fmt"

	"github.com/RyanBlaney/sonido-sentinel/algorithms/common"
	"github.com/RyanBlaney/sonido-sentinel/algorithms/spectral"
	"github.com/RyanBlaney/sonido-sentinel/algorithms/windowing"
	"github.com/RyanBlaney/sonido-sentinel/logging"
	"github.com/RyanBlaney/sonido-sentinel/tensor"
	"github.com/RyanBlaney/sonido-sentinel/transcode"
)

// ErrInsufficientAudio is returned when the waveform holds less than one
// full window.
var ErrInsufficientAudio = errors.New("audio shorter than one analysis window")

// Extractor converts waveforms into spectrogram tensors. It is safe for
// concurrent use; the filterbank and window are built once.
type Extractor struct {
	config Config
	stft   *spectral.STFT
	mel    *spectral.MelScale
	bank   [][]float64
	power  *spectral.PowerSpectrum
	logger logging.Logger
}

// NewExtractor validates config and precomputes the mel filterbank.
func NewExtractor(config Config) (*Extractor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spectrogram config: %w", err)
	}

	mel, err := spectral.NewMelScale(config.MelScale, config.MelNorm)
	if err != nil {
		return nil, err
	}

	bank, err := mel.CreateMelFilterBank(config.MelBands, config.FFTSize, config.SampleRate, config.FMin, config.FMax)
	if err != nil {
		return nil, fmt.Errorf("build mel filterbank: %w", err)
	}

	stftConfig := spectral.STFTConfig{
		FFTSize: config.FFTSize,
		HopSize: config.HopSize,
		Center:  true,
		PadMode: config.PadMode,
	}

	return &Extractor{
		config: config,
		stft:   spectral.NewSTFT(stftConfig, windowing.NewPeriodicHann(config.FFTSize)),
		mel:    mel,
		bank:   bank,
		power:  spectral.NewPowerSpectrum(),
		logger: logging.WithFields(logging.Fields{
			"component": "melspec_extractor",
		}),
	}, nil
}

// Config returns the extractor's configuration.
func (e *Extractor) Config() Config {
	return e.config
}

// Shape is the shape of every tensor Extract returns:
// (MelBands, 1 + SamplesPerWindow/HopSize, 1).
func (e *Extractor) Shape() tensor.Shape {
	return tensor.Shape{
		Height:   e.config.MelBands,
		Width:    e.stft.NumFrames(e.config.SamplesPerWindow()),
		Channels: 1,
	}
}

// NumWindows returns how many whole windows n samples at the configured rate
// contain. The trailing partial window is dropped.
func (e *Extractor) NumWindows(n int) int {
	return n / e.config.SamplesPerWindow()
}

// Extract slices waveform into consecutive non-overlapping windows and
// returns one normalized spectrogram per window, in order. Waveforms at a
// different rate are resampled first.
func (e *Extractor) Extract(waveform []float64, sampleRate int) ([]*tensor.Tensor, error) {
	logger := e.logger.WithFields(logging.Fields{
		"function":    "Extract",
		"samples":     len(waveform),
		"sample_rate": sampleRate,
	})

	if !common.IsFinite(waveform) {
		return nil, fmt.Errorf("waveform contains NaN or Inf samples")
	}

	if sampleRate != e.config.SampleRate {
		resampled, err := transcode.Resample(waveform, sampleRate, e.config.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("resample waveform: %w", err)
		}
		waveform = resampled
	}

	numWindows := e.NumWindows(len(waveform))
	if numWindows < 1 {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientAudio, len(waveform), e.config.SamplesPerWindow())
	}

	size := e.config.SamplesPerWindow()
	out := make([]*tensor.Tensor, numWindows)
	for i := range numWindows {
		spec, err := e.ExtractWindow(waveform[i*size : (i+1)*size])
		if err != nil {
			logger.Error(err, "Window extraction failed", logging.Fields{"window": i})
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		out[i] = spec
	}

	logger.Debug("Extracted spectrograms", logging.Fields{
		"windows": numWindows,
		"shape":   e.Shape().String(),
	})

	return out, nil
}

// ExtractWindow turns exactly one window of samples into a spectrogram.
func (e *Extractor) ExtractWindow(window []float64) (*tensor.Tensor, error) {
	if len(window) != e.config.SamplesPerWindow() {
		return nil, fmt.Errorf("window has %d samples, want %d", len(window), e.config.SamplesPerWindow())
	}

	stft, err := e.stft.PowerSpectrogram(window)
	if err != nil {
		return nil, err
	}

	melPower := e.mel.MelSpectrogram(stft.Power, e.bank)
	db := e.power.ToDBRelativeToMax(melPower, spectral.DefaultAmin, e.config.DynamicRangeDB)

	shape := e.Shape()
	if len(db) != shape.Height || len(db[0]) != shape.Width {
		return nil, fmt.Errorf("spectrogram is %dx%d, want %s", len(db), len(db[0]), shape)
	}

	rangeDB := e.config.DynamicRangeDB
	spec := tensor.New(shape)
	for b, row := range db {
		for t, v := range row {
			spec.Set(b, t, 0, (v+rangeDB)/rangeDB)
		}
	}
	common.ClampInPlace(spec.Data, 0, 1)

	return spec, nil
}

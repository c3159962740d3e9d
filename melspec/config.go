package melspec

import (
	"errors"
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-sentinel/algorithms/spectral"
)

// Config holds the spectrogram geometry. Every field feeds the shape of the
// tensors the extractor emits, so a trained model is only valid for the
// Config it was trained with.
type Config struct {
	SampleRate     int     `json:"sample_rate" yaml:"sample_rate"`
	WindowDuration float64 `json:"window_duration" yaml:"window_duration"` // seconds
	MelBands       int     `json:"mel_bands" yaml:"mel_bands"`
	FFTSize        int     `json:"fft_size" yaml:"fft_size"`
	HopSize        int     `json:"hop_size" yaml:"hop_size"`

	// DynamicRangeDB is both the top-dB floor of the log compression and the
	// span mapped onto [0, 1].
	DynamicRangeDB float64 `json:"dynamic_range_db" yaml:"dynamic_range_db"`

	FMin     float64             `json:"fmin" yaml:"fmin"`
	FMax     float64             `json:"fmax" yaml:"fmax"` // 0 means Nyquist
	PadMode  spectral.PadMode    `json:"pad_mode" yaml:"pad_mode"`
	MelScale spectral.MelFormula `json:"mel_scale" yaml:"mel_scale"`
	MelNorm  spectral.MelNorm    `json:"mel_norm" yaml:"mel_norm"`
}

// DefaultConfig returns 128-band spectrograms of one-second windows at
// 22.05 kHz, which yields 128 x 44 x 1 tensors.
func DefaultConfig() Config {
	return Config{
		SampleRate:     22050,
		WindowDuration: 1.0,
		MelBands:       128,
		FFTSize:        2048,
		HopSize:        512,
		DynamicRangeDB: 80,
		FMin:           0,
		FMax:           0,
		PadMode:        spectral.PadConstant,
		MelScale:       spectral.MelSlaney,
		MelNorm:        spectral.MelNormSlaney,
	}
}

// SamplesPerWindow is SampleRate * WindowDuration rounded to whole samples.
func (c Config) SamplesPerWindow() int {
	return int(math.Round(float64(c.SampleRate) * c.WindowDuration))
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.WindowDuration <= 0 {
		errs = append(errs, fmt.Errorf("window_duration must be positive, got %g", c.WindowDuration))
	}
	if c.MelBands <= 0 {
		errs = append(errs, fmt.Errorf("mel_bands must be positive, got %d", c.MelBands))
	}
	if c.FFTSize <= 1 {
		errs = append(errs, fmt.Errorf("fft_size must be greater than 1, got %d", c.FFTSize))
	}
	if c.HopSize <= 0 {
		errs = append(errs, fmt.Errorf("hop_size must be positive, got %d", c.HopSize))
	}
	if c.DynamicRangeDB <= 0 {
		errs = append(errs, fmt.Errorf("dynamic_range_db must be positive, got %g", c.DynamicRangeDB))
	}
	if c.FMin < 0 || (c.FMax > 0 && c.FMax <= c.FMin) {
		errs = append(errs, fmt.Errorf("invalid frequency range [%g, %g]", c.FMin, c.FMax))
	}
	if c.SampleRate > 0 && c.WindowDuration > 0 && c.PadMode == spectral.PadReflect && c.SamplesPerWindow() <= c.FFTSize/2 {
		errs = append(errs, fmt.Errorf("window of %d samples too short for reflect padding", c.SamplesPerWindow()))
	}
	return errors.Join(errs...)
}

package spectral

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-sentinel/logging"
)

// PadMode selects how a centered STFT extends the signal at both ends.
type PadMode string

const (
	PadConstant PadMode = "constant" // zeros
	PadReflect  PadMode = "reflect"  // mirror without repeating the edge sample
)

// STFTConfig holds frame geometry for the transform. The analysis window
// spans the full FFT size.
type STFTConfig struct {
	FFTSize int     `json:"fft_size" yaml:"fft_size"`
	HopSize int     `json:"hop_size" yaml:"hop_size"`
	Center  bool    `json:"center" yaml:"center"`
	PadMode PadMode `json:"pad_mode" yaml:"pad_mode"`
}

// DefaultSTFTConfig returns a 2048-point transform with a 512-sample hop,
// centered frames and zero padding.
func DefaultSTFTConfig() STFTConfig {
	return STFTConfig{
		FFTSize: 2048,
		HopSize: 512,
		Center:  true,
		PadMode: PadConstant,
	}
}

// Window interface for windowing functions
type Window interface {
	ApplyInPlace(signal []float64) error
}

// STFT provides Short-Time Fourier Transform functionality
type STFT struct {
	fft    *FFT
	window Window
	config STFTConfig
	logger logging.Logger
}

// STFTResult holds a power spectrogram
type STFTResult struct {
	Power      [][]float64 `json:"power"`       // Time x Frequency power matrix
	TimeFrames int         `json:"time_frames"` // Number of time frames
	FreqBins   int         `json:"freq_bins"`   // Number of frequency bins
	FFTSize    int         `json:"fft_size"`    // FFT window size
	HopSize    int         `json:"hop_size"`    // Hop size between frames
}

// NewSTFT creates a new STFT calculator. A nil window means rectangular.
func NewSTFT(config STFTConfig, window Window) *STFT {
	return &STFT{
		fft:    NewFFT(),
		window: window,
		config: config,
		logger: logging.WithFields(logging.Fields{
			"component": "stft",
		}),
	}
}

// NumFrames returns how many frames a signal of n samples produces.
func (s *STFT) NumFrames(n int) int {
	if s.config.Center {
		return 1 + n/s.config.HopSize
	}
	if n < s.config.FFTSize {
		return 0
	}
	return 1 + (n-s.config.FFTSize)/s.config.HopSize
}

// pad extends signal by FFTSize/2 on both sides for centered framing.
func (s *STFT) pad(signal []float64) ([]float64, error) {
	half := s.config.FFTSize / 2
	right := s.config.FFTSize - half
	padded := make([]float64, len(signal)+half+right)
	copy(padded[half:], signal)

	switch s.config.PadMode {
	case PadConstant, "":
		return padded, nil
	case PadReflect:
		if len(signal) <= right {
			return nil, fmt.Errorf("signal of %d samples too short for reflect padding of %d", len(signal), right)
		}
		for i := range half {
			padded[half-1-i] = signal[i+1]
		}
		for i := range right {
			padded[half+len(signal)+i] = signal[len(signal)-2-i]
		}
		return padded, nil
	default:
		return nil, fmt.Errorf("unknown pad mode %q", s.config.PadMode)
	}
}

// PowerSpectrogram computes |STFT|^2 with parallel frame processing.
// Each frame is written to its own slot, so the result does not depend on
// worker scheduling.
func (s *STFT) PowerSpectrogram(signal []float64) (*STFTResult, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}

	if s.config.FFTSize <= 0 {
		return nil, fmt.Errorf("fft size must be positive")
	}

	if s.config.HopSize <= 0 {
		return nil, fmt.Errorf("hop size must be positive")
	}

	numFrames := s.NumFrames(len(signal))
	if numFrames <= 0 {
		return nil, fmt.Errorf("signal too short for given window size and hop size")
	}

	frames := signal
	if s.config.Center {
		var err error
		frames, err = s.pad(signal)
		if err != nil {
			return nil, err
		}
	}

	freqBins := s.config.FFTSize/2 + 1
	power := make([][]float64, numFrames)
	for i := range numFrames {
		power[i] = make([]float64, freqBins)
	}

	numWorkers := s.getOptimalWorkerCount(numFrames)

	jobs := make(chan int, numFrames)
	errs := make(chan error, numWorkers)

	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Reuse frame buffer for this worker
			frameBuffer := make([]float64, s.config.FFTSize)

			for frameIdx := range jobs {
				start := frameIdx * s.config.HopSize
				copy(frameBuffer, frames[start:start+s.config.FFTSize])

				if s.window != nil {
					if err := s.window.ApplyInPlace(frameBuffer); err != nil {
						errs <- err
						return
					}
				}

				s.fft.ComputePower(frameBuffer, power[frameIdx])
			}
		}()
	}

	for frameIdx := range numFrames {
		jobs <- frameIdx
	}
	close(jobs)

	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		s.logger.Error(err, "Window application failed", logging.Fields{
			"function": "PowerSpectrogram",
		})
		return nil, fmt.Errorf("apply window: %w", err)
	}

	return &STFTResult{
		Power:      power,
		TimeFrames: numFrames,
		FreqBins:   freqBins,
		FFTSize:    s.config.FFTSize,
		HopSize:    s.config.HopSize,
	}, nil
}

// getOptimalWorkerCount determines the optimal number of workers based on workload
func (s *STFT) getOptimalWorkerCount(numFrames int) int {
	numCPU := runtime.NumCPU()

	// For small workloads, don't over-parallelize
	if numFrames < 100 {
		return max(1, min(numCPU/2, numFrames))
	}

	// For medium workloads, use most CPUs
	if numFrames < 1000 {
		return min(numCPU, 8)
	}

	return numCPU
}

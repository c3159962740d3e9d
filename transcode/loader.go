package transcode

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/RyanBlaney/sonido-sentinel/logging"
)

// Loader turns an audio file or byte stream into mono samples at a fixed
// rate. WAV input is parsed in process and resampled when needed; anything
// else goes through ffmpeg.
type Loader struct {
	decoder *Decoder
	rate    int
	logger  logging.Logger
}

// NewLoader creates a loader for the decoder's target sample rate.
func NewLoader(config *DecoderConfig) *Loader {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Loader{
		decoder: NewDecoder(config),
		rate:    config.TargetSampleRate,
		logger: logging.WithFields(logging.Fields{
			"component": "audio_loader",
		}),
	}
}

// SampleRate is the rate of every waveform the loader returns.
func (l *Loader) SampleRate() int {
	return l.rate
}

// LoadFile reads and decodes the file at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*AudioData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}

	audio, err := l.LoadBytes(ctx, data)
	if err != nil {
		return nil, err
	}
	audio.Source = path
	return audio, nil
}

// LoadReader decodes everything readable from r.
func (l *Loader) LoadReader(ctx context.Context, r io.Reader) (*AudioData, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return l.LoadBytes(ctx, data)
}

// LoadBytes decodes an in-memory audio file.
func (l *Loader) LoadBytes(ctx context.Context, data []byte) (*AudioData, error) {
	if len(data) == 0 {
		return nil, ErrNoAudio
	}

	if !IsWAV(data) {
		l.logger.Debug("Non-WAV input, using ffmpeg", logging.Fields{
			"function":  "LoadBytes",
			"data_size": len(data),
		})
		return l.decoder.DecodeBytes(ctx, data)
	}

	audio, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	if len(audio.PCM) == 0 {
		return nil, ErrNoAudio
	}

	if audio.SampleRate != l.rate {
		l.logger.Debug("Resampling WAV input", logging.Fields{
			"function":    "LoadBytes",
			"input_rate":  audio.SampleRate,
			"output_rate": l.rate,
		})
		pcm, err := Resample(audio.PCM, audio.SampleRate, l.rate)
		if err != nil {
			return nil, err
		}
		audio.PCM = pcm
		audio.SampleRate = l.rate
		audio.Duration = samplesDuration(len(pcm), l.rate)
	}

	return audio, nil
}

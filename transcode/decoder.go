package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-sentinel/logging"
)

// AudioData represents decoded mono audio
type AudioData struct {
	PCM        []float64     `json:"-"` // Raw PCM data, [-1, 1]
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"` // channels of the source before downmix
	Duration   time.Duration `json:"duration"`
	Codec      string        `json:"codec,omitempty"`
	Source     string        `json:"source,omitempty"`
}

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	TargetSampleRate int           `json:"target_sample_rate" yaml:"target_sample_rate"`
	MaxDuration      time.Duration `json:"max_duration" yaml:"max_duration"`
	ResampleQuality  string        `json:"resample_quality" yaml:"resample_quality"` // "fast", "medium", "high"
	FFmpegPath       string        `json:"ffmpeg_path" yaml:"ffmpeg_path"`           // Path to ffmpeg binary
	FFprobePath      string        `json:"ffprobe_path" yaml:"ffprobe_path"`         // Path to ffprobe binary
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`                   // Timeout for ffmpeg operations
}

// DefaultDecoderConfig returns default decoder configuration
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		TargetSampleRate: 22050,
		MaxDuration:      0, // No limit
		ResampleQuality:  "high",
		FFmpegPath:       "ffmpeg",  // Assume in PATH
		FFprobePath:      "ffprobe", // Assume in PATH
		Timeout:          60 * time.Second,
	}
}

// ErrNoAudio is returned when a source decodes to zero samples.
var ErrNoAudio = errors.New("no audio samples decoded")

// Decoder handles audio decoding using FFmpeg. Output is always mono at the
// configured rate.
type Decoder struct {
	config *DecoderConfig
}

// AudioMetadata holds detected audio properties from FFprobe
type AudioMetadata struct {
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Codec      string  `json:"codec"`
	Duration   float64 `json:"duration"`
	Bitrate    int     `json:"bitrate"`
	Format     string  `json:"format"`
}

// NewDecoder creates a new audio decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Decoder{config: config}
}

// DecodeFile decodes an audio file and returns PCM data
func (d *Decoder) DecodeFile(ctx context.Context, filename string) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "DecodeFile",
		"filename":  filename,
	})

	logger.Debug("Starting audio file decode")

	metadata, err := d.probe(ctx, filename, nil)
	if err != nil {
		logger.Error(err, "Failed to probe audio file")
		return nil, err
	}

	logger.Debug("Audio metadata detected", logging.Fields{
		"input_sample_rate": metadata.SampleRate,
		"input_channels":    metadata.Channels,
		"input_codec":       metadata.Codec,
		"input_duration":    metadata.Duration,
	})

	return d.decode(ctx, filename, nil, metadata, logger)
}

// DecodeBytes decodes audio from a byte slice by piping it through ffmpeg
func (d *Decoder) DecodeBytes(ctx context.Context, data []byte) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "DecodeBytes",
		"data_size": len(data),
	})

	if len(data) == 0 {
		return nil, ErrNoAudio
	}

	metadata, err := d.probe(ctx, "pipe:0", data)
	if err != nil {
		logger.Error(err, "Failed to probe audio metadata")
		return nil, err
	}

	return d.decode(ctx, "pipe:0", data, metadata, logger)
}

// DecodeReader decodes audio from an io.Reader
func (d *Decoder) DecodeReader(ctx context.Context, reader io.Reader) (*AudioData, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return d.DecodeBytes(ctx, data)
}

// withTimeout applies the configured ffmpeg timeout on top of ctx.
func (d *Decoder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.config.Timeout > 0 {
		return context.WithTimeout(ctx, d.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// probe uses ffprobe to get audio information. When data is non-nil it is
// fed on stdin and input must be "pipe:0".
func (d *Decoder) probe(ctx context.Context, input string, data []byte) (*AudioMetadata, error) {
	args := []string{
		"-v", "quiet", // Suppress verbose output
		"-print_format", "json", // JSON output
		"-show_streams",          // Show stream info
		"-select_streams", "a:0", // First audio stream only
		input,
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.config.FFprobePath, args...)
	if data != nil {
		cmd.Stdin = bytes.NewReader(data)
	}

	output, err := cmd.Output()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, string(exitError.Stderr))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseFFprobeOutput(output)
}

// parseFFprobeOutput parses ffprobe JSON to extract audio metadata
func parseFFprobeOutput(jsonData []byte) (*AudioMetadata, error) {
	var probe struct {
		Streams []struct {
			CodecType     string `json:"codec_type"`
			CodecName     string `json:"codec_name"`
			SampleRate    string `json:"sample_rate"`
			Channels      int    `json:"channels"`
			Duration      string `json:"duration"`
			BitRate       string `json:"bit_rate"`
			CodecLongName string `json:"codec_long_name"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(jsonData, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("no audio streams found")
	}

	stream := probe.Streams[0]

	if stream.CodecType != "audio" {
		return nil, fmt.Errorf("stream is not audio type: %s", stream.CodecType)
	}

	sampleRate, err := strconv.Atoi(stream.SampleRate)
	if err != nil {
		sampleRate = 0 // ffmpeg resamples regardless
	}

	duration, err := strconv.ParseFloat(stream.Duration, 64)
	if err != nil {
		duration = 0
	}

	bitrate, err := strconv.Atoi(stream.BitRate)
	if err != nil {
		bitrate = 0
	}

	if stream.Channels <= 0 || stream.Channels > 8 {
		return nil, fmt.Errorf("invalid channel count: %d", stream.Channels)
	}

	return &AudioMetadata{
		SampleRate: sampleRate,
		Channels:   stream.Channels,
		Codec:      stream.CodecName,
		Duration:   duration,
		Bitrate:    bitrate,
		Format:     stream.CodecLongName,
	}, nil
}

// decode runs ffmpeg and converts its f64le stdout into samples.
func (d *Decoder) decode(ctx context.Context, input string, data []byte, metadata *AudioMetadata, logger logging.Logger) (*AudioData, error) {
	args := append([]string{"-i", input}, d.buildFFmpegArgs(metadata)...)
	args = append(args, "pipe:1") // Output to stdout

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.config.FFmpegPath, args...)
	if data != nil {
		cmd.Stdin = bytes.NewReader(data)
	}

	logger.Debug("Running ffmpeg command", logging.Fields{
		"args": strings.Join(args, " "),
	})

	output, err := cmd.Output()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			logger.Error(err, "Ffmpeg decode failed", logging.Fields{
				"stderr": string(exitError.Stderr),
			})
		}
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	samples := bytesToFloat64(output)
	if len(samples) == 0 {
		return nil, ErrNoAudio
	}

	source := input
	if data != nil {
		source = ""
	}

	audio := &AudioData{
		PCM:        samples,
		SampleRate: d.config.TargetSampleRate,
		Channels:   metadata.Channels,
		Duration:   samplesDuration(len(samples), d.config.TargetSampleRate),
		Codec:      metadata.Codec,
		Source:     source,
	}

	logger.Debug("FFmpeg decode completed successfully", logging.Fields{
		"input_sample_rate":  metadata.SampleRate,
		"input_codec":        metadata.Codec,
		"output_samples":     len(samples),
		"output_sample_rate": d.config.TargetSampleRate,
		"output_duration":    audio.Duration.Seconds(),
	})

	return audio, nil
}

// buildFFmpegArgs builds the ffmpeg arguments based on configuration and metadata
func (d *Decoder) buildFFmpegArgs(metadata *AudioMetadata) []string {
	args := []string{
		"-vn",         // No video
		"-f", "f64le", // Output raw float64 little-endian
		"-ac", "1", // Downmix to mono
		"-ar", strconv.Itoa(d.config.TargetSampleRate), // Target sample rate
	}

	if d.config.ResampleQuality != "" && metadata.SampleRate != d.config.TargetSampleRate {
		switch d.config.ResampleQuality {
		case "fast":
			args = append(args, "-af", "aresample=resampler=soxr:precision=16")
		case "medium":
			args = append(args, "-af", "aresample=resampler=soxr:precision=20")
		case "high":
			args = append(args, "-af", "aresample=resampler=soxr:precision=28")
		}
	}

	if d.config.MaxDuration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.2f", d.config.MaxDuration.Seconds()))
	}

	// Suppress ffmpeg output
	args = append(args, "-v", "error")

	return args
}

// bytesToFloat64 converts raw float64 bytes to []float64
func bytesToFloat64(data []byte) []float64 {
	if len(data)%8 != 0 {
		// Trim to multiple of 8 bytes
		data = data[:len(data)-(len(data)%8)]
	}

	if len(data) == 0 {
		return nil
	}

	sampleCount := len(data) / 8
	samples := make([]float64, sampleCount)

	for i := range sampleCount {
		bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		samples[i] = math.Float64frombits(bits)
	}

	return samples
}

func samplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// ValidateConfig validates the decoder configuration
func (d *Decoder) ValidateConfig() error {
	if d.config.TargetSampleRate <= 0 {
		return fmt.Errorf("target sample rate must be positive: %d", d.config.TargetSampleRate)
	}

	if d.config.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %v", d.config.Timeout)
	}

	return nil
}

// Available reports whether ffmpeg and ffprobe can be executed.
func (d *Decoder) Available(ctx context.Context) error {
	if err := exec.CommandContext(ctx, d.config.FFmpegPath, "-version").Run(); err != nil {
		return fmt.Errorf("ffmpeg not found at %s: %w", d.config.FFmpegPath, err)
	}

	if err := exec.CommandContext(ctx, d.config.FFprobePath, "-version").Run(); err != nil {
		return fmt.Errorf("ffprobe not found at %s: %w", d.config.FFprobePath, err)
	}

	return nil
}

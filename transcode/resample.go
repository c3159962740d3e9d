package transcode

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// resampleTail is the fraction of a second of silence appended before
// processing so the filter's delay line is drained into the output.
const resampleTail = 0.1

// Resample converts mono samples from one rate to another with a high quality
// polyphase filter. The result holds round(len(samples) * to / from) samples.
func Resample(samples []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out, nil
	}

	config := &resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	}
	resampler, err := resampling.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	input := make([]float64, len(samples)+int(float64(from)*resampleTail))
	copy(input, samples)

	output, err := resampler.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	want := int((int64(len(samples))*int64(to) + int64(from)/2) / int64(from))
	if len(output) >= want {
		return output[:want], nil
	}

	padded := make([]float64, want)
	copy(padded, output)
	return padded, nil
}

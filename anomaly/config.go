package anomaly

import (
	"errors"
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-sentinel/autoencoder"
	"github.com/RyanBlaney/sonido-sentinel/melspec"
)

// Config holds the calibration and scoring policy.
type Config struct {
	Spectrogram melspec.Config     `json:"spectrogram" yaml:"spectrogram"`
	Model       autoencoder.Config `json:"model" yaml:"model"`

	Epochs    int `json:"epochs" yaml:"epochs"`
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// ThresholdMargin scales the worst training residual into the threshold.
	ThresholdMargin float64 `json:"threshold_margin" yaml:"threshold_margin"`

	// HealthyScore is the score a diagnosis must exceed to be HEALTHY.
	HealthyScore float64 `json:"healthy_score" yaml:"healthy_score"`

	// TrainTimeout bounds model fitting; 0 disables it.
	TrainTimeout time.Duration `json:"train_timeout" yaml:"train_timeout"`

	// Seed drives weight initialization and batch shuffling. It replaces
	// Model.Seed.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultConfig returns 50 epochs of batch 4, a 10% threshold margin and a
// healthy score of 90.
func DefaultConfig() Config {
	return Config{
		Spectrogram:     melspec.DefaultConfig(),
		Model:           autoencoder.DefaultConfig(),
		Epochs:          50,
		BatchSize:       4,
		ThresholdMargin: 1.1,
		HealthyScore:    90,
		TrainTimeout:    0,
		Seed:            42,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Spectrogram.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("spectrogram: %w", err))
	}
	if err := c.Model.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}
	if c.Epochs <= 0 {
		errs = append(errs, fmt.Errorf("epochs must be positive, got %d", c.Epochs))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.ThresholdMargin < 1 {
		errs = append(errs, fmt.Errorf("threshold_margin must be at least 1, got %g", c.ThresholdMargin))
	}
	if c.HealthyScore < 0 || c.HealthyScore >= 100 {
		errs = append(errs, fmt.Errorf("healthy_score must be in [0, 100), got %g", c.HealthyScore))
	}
	if c.TrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("train_timeout must not be negative, got %s", c.TrainTimeout))
	}
	return errors.Join(errs...)
}

func (c Config) modelConfig() autoencoder.Config {
	mc := c.Model
	mc.Seed = c.Seed
	return mc
}

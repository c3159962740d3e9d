package autoencoder

import (
	"errors"
	"fmt"
)

// Config describes the network and its optimizer. Everything except Workers
// is stored in the model artifact.
type Config struct {
	// EncoderFilters is the channel count of the outer convolutions.
	EncoderFilters int `json:"encoder_filters" yaml:"encoder_filters" msgpack:"encoder_filters"`
	// BottleneckFilters is the channel count of the two inner convolutions.
	BottleneckFilters int `json:"bottleneck_filters" yaml:"bottleneck_filters" msgpack:"bottleneck_filters"`
	KernelSize        int `json:"kernel_size" yaml:"kernel_size" msgpack:"kernel_size"`

	LearningRate float64 `json:"learning_rate" yaml:"learning_rate" msgpack:"learning_rate"`
	Beta1        float64 `json:"beta1" yaml:"beta1" msgpack:"beta1"`
	Beta2        float64 `json:"beta2" yaml:"beta2" msgpack:"beta2"`
	Epsilon      float64 `json:"epsilon" yaml:"epsilon" msgpack:"epsilon"`

	// Seed drives weight initialization.
	Seed uint64 `json:"seed" yaml:"seed" msgpack:"seed"`

	// Workers bounds per-sample parallelism; 0 means GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers" msgpack:"-"`
}

// DefaultConfig returns a 32/16-filter network trained with Adam at 1e-3.
func DefaultConfig() Config {
	return Config{
		EncoderFilters:    32,
		BottleneckFilters: 16,
		KernelSize:        3,
		LearningRate:      1e-3,
		Beta1:             0.9,
		Beta2:             0.999,
		Epsilon:           1e-7,
		Seed:              42,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.EncoderFilters <= 0 || c.BottleneckFilters <= 0 {
		errs = append(errs, fmt.Errorf("filter counts must be positive, got %d/%d", c.EncoderFilters, c.BottleneckFilters))
	}
	if c.KernelSize <= 0 || c.KernelSize%2 == 0 {
		errs = append(errs, fmt.Errorf("kernel_size must be a positive odd number, got %d", c.KernelSize))
	}
	if c.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("learning_rate must be positive, got %g", c.LearningRate))
	}
	if c.Beta1 < 0 || c.Beta1 >= 1 || c.Beta2 < 0 || c.Beta2 >= 1 {
		errs = append(errs, fmt.Errorf("beta1/beta2 must be in [0, 1), got %g/%g", c.Beta1, c.Beta2))
	}
	if c.Epsilon <= 0 {
		errs = append(errs, fmt.Errorf("epsilon must be positive, got %g", c.Epsilon))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	return errors.Join(errs...)
}

// FitOptions controls one training run.
type FitOptions struct {
	Epochs    int
	BatchSize int
	Shuffle   bool
	// Seed drives the per-epoch shuffle.
	Seed uint64
	// OnEpoch, when set, is called after every epoch with the mean loss.
	OnEpoch func(epoch int, loss float64)
}

// History records the mean training loss of each epoch.
type History struct {
	Loss []float64
}

// FinalLoss is the loss of the last completed epoch, or 0 if none ran.
func (h *History) FinalLoss() float64 {
	if h == nil || len(h.Loss) == 0 {
		return 0
	}
	return h.Loss[len(h.Loss)-1]
}

// Package autoencoder implements the convolutional reconstruction network
// used to learn what a healthy spectrogram looks like.
//
// The network is
//
//	conv(F1, relu) -> maxpool -> conv(F2, relu) -> maxpool
//	-> conv(F2, relu) -> upsample -> conv(F1, relu) -> upsample
//	-> conv(1, sigmoid) [-> crop]
//
// with 3x3 "same" convolutions, trained by Adam on mean squared error with
// the input as its own target.
package autoencoder

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/sonido-sentinel/algorithms/common"
	"github.com/RyanBlaney/sonido-sentinel/logging"
	"github.com/RyanBlaney/sonido-sentinel/tensor"
)

// ErrShapeMismatch is returned when an input tensor does not have the
// model's input shape.
var ErrShapeMismatch = errors.New("tensor shape does not match model input")

// Model is a built autoencoder. Predict is safe for concurrent use; Fit is
// not safe to run concurrently with anything else on the same model.
type Model struct {
	shape  tensor.Shape
	config Config
	layers []layer
	opt    *adam
	logger logging.Logger
}

// Build creates a freshly initialized model for inputs of the given shape.
// Two models built with the same shape and config have identical weights.
func Build(shape tensor.Shape, config Config) (*Model, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("invalid input shape %s", shape)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid autoencoder config: %w", err)
	}

	m, err := assemble(shape, config)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(config.Seed, config.Seed^0x5851f42d4c957f2d))
	for _, l := range m.layers {
		if conv, ok := l.(*conv2d); ok {
			conv.glorotUniform(rng)
		}
	}

	return m, nil
}

// assemble wires the layer stack with zeroed parameters.
func assemble(shape tensor.Shape, config Config) (*Model, error) {
	m := &Model{
		shape:  shape,
		config: config,
		logger: logging.WithFields(logging.Fields{
			"component": "autoencoder",
		}),
	}

	cur := shape
	push := func(l layer) {
		m.layers = append(m.layers, l)
		cur = l.outputShape()
	}

	k := config.KernelSize
	// encoder
	push(newConv2D(cur, config.EncoderFilters, k, activationReLU))
	push(newMaxPool2D(cur))
	push(newConv2D(cur, config.BottleneckFilters, k, activationReLU))
	push(newMaxPool2D(cur))
	// decoder
	push(newConv2D(cur, config.BottleneckFilters, k, activationReLU))
	push(newUpSample2D(cur))
	push(newConv2D(cur, config.EncoderFilters, k, activationReLU))
	push(newUpSample2D(cur))
	push(newConv2D(cur, shape.Channels, k, activationSigmoid))

	if cur != shape {
		crop, err := newCrop2D(cur, shape)
		if err != nil {
			return nil, err
		}
		push(crop)
	}

	return m, nil
}

// InputShape is the shape the model accepts and produces.
func (m *Model) InputShape() tensor.Shape {
	return m.shape
}

// Config returns the configuration the model was built with.
func (m *Model) Config() Config {
	return m.config
}

// ParamCount returns the number of trainable parameters.
func (m *Model) ParamCount() int {
	n := 0
	for _, l := range m.layers {
		for _, p := range l.params() {
			n += len(p)
		}
	}
	return n
}

func (m *Model) workers() int {
	if m.config.Workers > 0 {
		return m.config.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (m *Model) checkInputs(x []*tensor.Tensor) error {
	for i, t := range x {
		if t == nil || t.Shape != m.shape || len(t.Data) != m.shape.Size() {
			got := tensor.Shape{}
			if t != nil {
				got = t.Shape
			}
			return fmt.Errorf("%w: sample %d is %s, want %s", ErrShapeMismatch, i, got, m.shape)
		}
	}
	return nil
}

// activations runs one sample through the network and returns the input to
// every layer followed by the final output.
func (m *Model) activations(x *tensor.Tensor) []*tensor.Tensor {
	acts := make([]*tensor.Tensor, 0, len(m.layers)+1)
	acts = append(acts, x)
	for _, l := range m.layers {
		x = l.forward(x)
		acts = append(acts, x)
	}
	return acts
}

func (m *Model) forward(x *tensor.Tensor) *tensor.Tensor {
	for _, l := range m.layers {
		x = l.forward(x)
	}
	return x
}

// Predict reconstructs every sample. Samples are processed in parallel and
// each result lands in its input's slot, so output order matches input order.
func (m *Model) Predict(ctx context.Context, x []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := m.checkInputs(x); err != nil {
		return nil, err
	}

	out := make([]*tensor.Tensor, len(x))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers())
	for i := range x {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = m.forward(x[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReconstructionErrors returns the mean squared reconstruction error of each
// sample, averaged over every element of the tensor.
func (m *Model) ReconstructionErrors(ctx context.Context, x []*tensor.Tensor) ([]float64, error) {
	recon, err := m.Predict(ctx, x)
	if err != nil {
		return nil, err
	}

	errs := make([]float64, len(x))
	for i := range x {
		errs[i] = common.MeanSquaredError(x[i].Data, recon[i].Data)
	}
	return errs, nil
}

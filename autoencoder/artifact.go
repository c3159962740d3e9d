package autoencoder

import (
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/RyanBlaney/sonido-sentinel/tensor"
)

const (
	artifactFormat  = "sonido-sentinel/autoencoder"
	artifactVersion = 1
)

// ErrInvalidArtifact is returned by Load for anything that is not a
// complete, self-consistent model artifact.
var ErrInvalidArtifact = errors.New("invalid model artifact")

// artifact is the persisted form of a model: architecture and weights.
// Optimizer state is never written.
type artifact struct {
	Format     string       `msgpack:"format"`
	Version    int          `msgpack:"version"`
	InputShape tensor.Shape `msgpack:"input_shape"`
	Config     Config       `msgpack:"config"`
	Layers     []layerSpec  `msgpack:"layers"`
}

type layerSpec struct {
	Kind       string       `msgpack:"kind"`
	Input      tensor.Shape `msgpack:"input"`
	Output     tensor.Shape `msgpack:"output"`
	Kernel     int          `msgpack:"kernel,omitempty"`
	Activation string       `msgpack:"activation,omitempty"`
	Weights    []float64    `msgpack:"weights,omitempty"`
	Bias       []float64    `msgpack:"bias,omitempty"`
}

func specOf(l layer) layerSpec {
	spec := layerSpec{
		Kind:   l.kind(),
		Input:  l.inputShape(),
		Output: l.outputShape(),
	}
	if conv, ok := l.(*conv2d); ok {
		spec.Kernel = conv.kernel
		spec.Activation = string(conv.act)
		spec.Weights = conv.weights
		spec.Bias = conv.bias
	}
	return spec
}

// Save writes the model as a msgpack artifact.
func (m *Model) Save(w io.Writer) error {
	art := artifact{
		Format:     artifactFormat,
		Version:    artifactVersion,
		InputShape: m.shape,
		Config:     m.config,
	}
	for _, l := range m.layers {
		art.Layers = append(art.Layers, specOf(l))
	}

	return encodeArtifact(w, &art)
}

func encodeArtifact(w io.Writer, art *artifact) error {
	if err := msgpack.NewEncoder(w).Encode(art); err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}
	return nil
}

// Load reads an artifact written by Save. The architecture is rebuilt from
// the stored config and checked layer by layer against the stored specs
// before the weights are copied in.
func Load(r io.Reader) (*Model, error) {
	var art artifact
	if err := msgpack.NewDecoder(r).Decode(&art); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	if art.Format != artifactFormat {
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidArtifact, art.Format)
	}
	if art.Version != artifactVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidArtifact, art.Version)
	}
	if !art.InputShape.Valid() {
		return nil, fmt.Errorf("%w: invalid input shape %s", ErrInvalidArtifact, art.InputShape)
	}
	if err := art.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	m, err := assemble(art.InputShape, art.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	if len(art.Layers) != len(m.layers) {
		return nil, fmt.Errorf("%w: %d layers stored, architecture has %d", ErrInvalidArtifact, len(art.Layers), len(m.layers))
	}

	for i, l := range m.layers {
		stored := art.Layers[i]
		want := specOf(l)
		if stored.Kind != want.Kind || stored.Input != want.Input || stored.Output != want.Output ||
			stored.Kernel != want.Kernel || stored.Activation != want.Activation {
			return nil, fmt.Errorf("%w: layer %d is %s %s->%s, want %s %s->%s", ErrInvalidArtifact,
				i, stored.Kind, stored.Input, stored.Output, want.Kind, want.Input, want.Output)
		}

		conv, ok := l.(*conv2d)
		if !ok {
			continue
		}
		if len(stored.Weights) != len(conv.weights) || len(stored.Bias) != len(conv.bias) {
			return nil, fmt.Errorf("%w: layer %d has %d/%d parameters, want %d/%d", ErrInvalidArtifact,
				i, len(stored.Weights), len(stored.Bias), len(conv.weights), len(conv.bias))
		}
		copy(conv.weights, stored.Weights)
		copy(conv.bias, stored.Bias)
	}

	return m, nil
}

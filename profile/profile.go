// Package profile persists the trained state of one operating mode: the
// autoencoder artifact and a small metadata record carrying the anomaly
// threshold.
//
// A profile exists only when both records are present. Every save replaces
// both records; the metadata carries the SHA-256 of the artifact so a
// reader can tell a matched pair from a half-replaced one.
package profile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/RyanBlaney/sonido-sentinel/autoencoder"
	"github.com/RyanBlaney/sonido-sentinel/tensor"
)

var (
	// ErrNotFound is returned when a mode has no complete profile.
	ErrNotFound = errors.New("profile not found")

	// ErrCorrupt is returned when a profile exists but cannot be used.
	ErrCorrupt = errors.New("profile corrupt")

	errDigestMismatch = fmt.Errorf("%w: model digest does not match metadata", ErrCorrupt)
)

// Meta is the metadata record stored next to the model artifact.
type Meta struct {
	Threshold   float64      `json:"threshold"`
	MaxError    float64      `json:"max_error"`
	Windows     int          `json:"windows"`
	Generation  string       `json:"generation"`
	ModelSHA256 string       `json:"model_sha256"`
	InputShape  tensor.Shape `json:"input_shape"`
	SampleRate  int          `json:"sample_rate"`
	TrainedAt   time.Time    `json:"trained_at"`
}

func (m *Meta) validate() error {
	if math.IsNaN(m.Threshold) || math.IsInf(m.Threshold, 0) || m.Threshold < 0 {
		return fmt.Errorf("threshold %v out of range", m.Threshold)
	}
	if m.Windows < 0 {
		return fmt.Errorf("negative window count %d", m.Windows)
	}
	return nil
}

// Profile is a loaded mode profile.
type Profile struct {
	Mode  string
	Model *autoencoder.Model
	Meta  Meta
}

// Store persists profiles keyed by mode name. Implementations must be safe
// for concurrent use; a Load running concurrently with a Save of the same
// mode returns either the old or the new profile, or ErrCorrupt.
type Store interface {
	// Exists reports whether both records of the mode are present.
	Exists(ctx context.Context, mode string) (bool, error)

	// Load reads and validates the profile. It returns ErrNotFound when
	// either record is missing and an error wrapping ErrCorrupt when the
	// records cannot be decoded or do not belong together.
	Load(ctx context.Context, mode string) (*Profile, error)

	// Save replaces the mode's profile. The digest, generation, input shape
	// and, when unset, the training time are filled in from the model; the
	// stored metadata is returned.
	Save(ctx context.Context, mode string, model *autoencoder.Model, meta Meta) (*Meta, error)

	// Status returns the stored metadata without decoding the model.
	Status(ctx context.Context, mode string) (*Meta, error)
}

// checkMode rejects names that cannot be used as a file name or key segment.
func checkMode(mode string) error {
	if mode == "" {
		return errors.New("profile: empty mode")
	}
	for _, r := range mode {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("profile: invalid mode %q", mode)
		}
	}
	return nil
}

// encode serializes a model and its metadata into the two stored records.
func encode(model *autoencoder.Model, meta Meta) (modelData, metaData []byte, _ *Meta, _ error) {
	var buf bytes.Buffer
	if err := model.Save(&buf); err != nil {
		return nil, nil, nil, fmt.Errorf("encode model: %w", err)
	}
	modelData = buf.Bytes()

	sum := sha256.Sum256(modelData)
	meta.ModelSHA256 = hex.EncodeToString(sum[:])
	meta.InputShape = model.InputShape()
	if meta.Generation == "" {
		meta.Generation = uuid.NewString()
	}
	if meta.TrainedAt.IsZero() {
		meta.TrainedAt = time.Now().UTC()
	}
	if err := meta.validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid metadata: %w", err)
	}

	metaData, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return modelData, metaData, &meta, nil
}

func decodeMeta(data []byte) (*Meta, error) {
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
	}
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
	}
	return &meta, nil
}

// decode checks a stored pair and rebuilds the model. Records written
// without a digest or input shape skip those checks.
func decode(mode string, modelData, metaData []byte) (*Profile, error) {
	meta, err := decodeMeta(metaData)
	if err != nil {
		return nil, err
	}
	if meta.ModelSHA256 != "" {
		sum := sha256.Sum256(modelData)
		if hex.EncodeToString(sum[:]) != meta.ModelSHA256 {
			return nil, errDigestMismatch
		}
	}

	model, err := autoencoder.Load(bytes.NewReader(modelData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if meta.InputShape.Valid() && model.InputShape() != meta.InputShape {
		return nil, fmt.Errorf("%w: model input %s, metadata says %s",
			ErrCorrupt, model.InputShape(), meta.InputShape)
	}
	return &Profile{Mode: mode, Model: model, Meta: *meta}, nil
}

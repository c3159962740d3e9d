package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/RyanBlaney/sonido-sentinel/autoencoder"
	"github.com/RyanBlaney/sonido-sentinel/kv"
	"github.com/RyanBlaney/sonido-sentinel/logging"
)

// KV stores profiles under profile:<mode>:model and profile:<mode>:meta.
// Both keys are written in one batch and read from one snapshot.
type KV struct {
	store  kv.Store
	logger logging.Logger
}

// NewKV returns a profile store over a key-value store.
func NewKV(store kv.Store) *KV {
	return &KV{
		store: store,
		logger: logging.WithFields(logging.Fields{
			"component": "profile_store",
			"backend":   "kv",
		}),
	}
}

func modelKey(mode string) kv.Key { return kv.Key{"profile", mode, "model"} }
func metaKey(mode string) kv.Key  { return kv.Key{"profile", mode, "meta"} }

// pair returns the model and metadata records, or ErrNotFound unless both
// are present.
func (s *KV) pair(ctx context.Context, mode string) (modelData, metaData []byte, _ error) {
	if err := checkMode(mode); err != nil {
		return nil, nil, err
	}
	vals, err := s.store.BatchGet(ctx, []kv.Key{modelKey(mode), metaKey(mode)})
	if err != nil {
		return nil, nil, fmt.Errorf("profile %s: %w", mode, err)
	}
	if vals[0] == nil || vals[1] == nil {
		return nil, nil, ErrNotFound
	}
	return vals[0], vals[1], nil
}

func (s *KV) Exists(ctx context.Context, mode string) (bool, error) {
	_, _, err := s.pair(ctx, mode)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *KV) Load(ctx context.Context, mode string) (*Profile, error) {
	modelData, metaData, err := s.pair(ctx, mode)
	if err != nil {
		return nil, err
	}
	p, err := decode(mode, modelData, metaData)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", mode, err)
	}
	return p, nil
}

func (s *KV) Save(ctx context.Context, mode string, model *autoencoder.Model, meta Meta) (*Meta, error) {
	if err := checkMode(mode); err != nil {
		return nil, err
	}
	modelData, metaData, stored, err := encode(model, meta)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", mode, err)
	}
	err = s.store.BatchSet(ctx, []kv.Entry{
		{Key: modelKey(mode), Value: modelData},
		{Key: metaKey(mode), Value: metaData},
	})
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", mode, err)
	}

	s.logger.Info("Profile saved", logging.Fields{
		"mode":       mode,
		"generation": stored.Generation,
		"threshold":  stored.Threshold,
	})
	return stored, nil
}

func (s *KV) Status(ctx context.Context, mode string) (*Meta, error) {
	_, metaData, err := s.pair(ctx, mode)
	if err != nil {
		return nil, err
	}
	meta, err := decodeMeta(metaData)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", mode, err)
	}
	return meta, nil
}

var _ Store = (*KV)(nil)

package profile

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/RyanBlaney/sonido-sentinel/autoencoder"
	"github.com/RyanBlaney/sonido-sentinel/logging"
	"github.com/RyanBlaney/sonido-sentinel/storage"
)

// ModelPath is the file holding the mode's model artifact.
func ModelPath(mode string) string { return "model_" + mode + ".msgpack" }

// MetaPath is the file holding the mode's metadata record.
func MetaPath(mode string) string { return "meta_" + mode + ".json" }

// Files stores profiles as two files per mode in a storage.FileStore.
//
// The model is written before the metadata. Each file is replaced in one
// step by the FileStore, so a reader racing a save can only see a new model
// with old metadata; the digest check catches that and Load re-reads once.
// A save whose metadata write fails puts the previous model back.
type Files struct {
	fs     storage.FileStore
	logger logging.Logger
}

// NewFiles returns a profile store over fs.
func NewFiles(fs storage.FileStore) *Files {
	return &Files{
		fs: fs,
		logger: logging.WithFields(logging.Fields{
			"component": "profile_store",
			"backend":   "files",
		}),
	}
}

func (f *Files) Exists(ctx context.Context, mode string) (bool, error) {
	if err := checkMode(mode); err != nil {
		return false, err
	}
	for _, path := range []string{ModelPath(mode), MetaPath(mode)} {
		ok, err := f.fs.Exists(ctx, path)
		if err != nil {
			return false, fmt.Errorf("profile: stat %s: %w", path, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (f *Files) Load(ctx context.Context, mode string) (*Profile, error) {
	if err := checkMode(mode); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		metaData, err := f.read(ctx, MetaPath(mode))
		if err != nil {
			return nil, err
		}
		modelData, err := f.read(ctx, ModelPath(mode))
		if err != nil {
			return nil, err
		}

		p, err := decode(mode, modelData, metaData)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if !errors.Is(err, errDigestMismatch) || attempt > 0 {
			break
		}
		f.logger.Warn("Model and metadata disagree, re-reading", logging.Fields{
			"mode": mode,
		})
	}
	return nil, fmt.Errorf("profile %s: %w", mode, lastErr)
}

func (f *Files) Save(ctx context.Context, mode string, model *autoencoder.Model, meta Meta) (*Meta, error) {
	if err := checkMode(mode); err != nil {
		return nil, err
	}
	modelData, metaData, stored, err := encode(model, meta)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", mode, err)
	}

	previous, err := f.read(ctx, ModelPath(mode))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := storage.WriteFile(ctx, f.fs, ModelPath(mode), modelData); err != nil {
		return nil, fmt.Errorf("profile %s: write model: %w", mode, err)
	}
	if err := storage.WriteFile(ctx, f.fs, MetaPath(mode), metaData); err != nil {
		if rerr := f.restoreModel(ctx, mode, previous); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore model: %w", rerr))
		}
		return nil, fmt.Errorf("profile %s: write metadata: %w", mode, err)
	}

	f.logger.Info("Profile saved", logging.Fields{
		"mode":       mode,
		"generation": stored.Generation,
		"threshold":  stored.Threshold,
		"model_size": len(modelData),
	})
	return stored, nil
}

// restoreModel puts back the model that was current before a failed save,
// or removes the new one when the mode had no model.
func (f *Files) restoreModel(ctx context.Context, mode string, previous []byte) error {
	ctx = context.WithoutCancel(ctx)
	if previous == nil {
		return f.fs.Delete(ctx, ModelPath(mode))
	}
	if err := storage.WriteFile(ctx, f.fs, ModelPath(mode), previous); err != nil {
		return err
	}
	f.logger.Warn("Metadata write failed, previous model restored", logging.Fields{
		"mode": mode,
	})
	return nil
}

func (f *Files) Status(ctx context.Context, mode string) (*Meta, error) {
	ok, err := f.Exists(ctx, mode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	data, err := f.read(ctx, MetaPath(mode))
	if err != nil {
		return nil, err
	}
	meta, err := decodeMeta(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", mode, err)
	}
	return meta, nil
}

func (f *Files) read(ctx context.Context, path string) ([]byte, error) {
	data, err := storage.ReadFile(ctx, f.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", path, err)
	}
	return data, nil
}

var _ Store = (*Files)(nil)

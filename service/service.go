// Package service exposes training and diagnosis to users: the text
// operations shown to an operator, the profile status listing, and the HTTP
// handler.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/sonido-sentinel/anomaly"
	"github.com/RyanBlaney/sonido-sentinel/config"
	"github.com/RyanBlaney/sonido-sentinel/kv"
	"github.com/RyanBlaney/sonido-sentinel/lock"
	"github.com/RyanBlaney/sonido-sentinel/logging"
	"github.com/RyanBlaney/sonido-sentinel/profile"
	"github.com/RyanBlaney/sonido-sentinel/storage"
	"github.com/RyanBlaney/sonido-sentinel/transcode"
)

// Service ties audio loading to the calibration and diagnostic engines.
type Service struct {
	loader        *transcode.Loader
	store         profile.Store
	calibrator    *anomaly.Calibrator
	diagnostician *anomaly.Diagnostician
	closers       []io.Closer
	logger        logging.Logger
}

// New builds a Service over an existing store and locker.
func New(loader *transcode.Loader, store profile.Store, locker lock.Locker, cfg anomaly.Config) (*Service, error) {
	cal, err := anomaly.NewCalibrator(store, locker, cfg)
	if err != nil {
		return nil, err
	}
	diag, err := anomaly.NewDiagnostician(store, cfg)
	if err != nil {
		return nil, err
	}
	return &Service{
		loader:        loader,
		store:         store,
		calibrator:    cal,
		diagnostician: diag,
		logger: logging.WithFields(logging.Fields{
			"component": "service",
		}),
	}, nil
}

// Open builds the profile store and training lock named by cfg and returns
// a Service using them. Close releases them.
func Open(ctx context.Context, cfg *config.Config) (*Service, error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	store, closer, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	var locker lock.Locker
	switch cfg.Lock.Backend {
	case config.LockRedis:
		r, err := lock.NewRedis(ctx, cfg.Lock.Redis)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, r)
		locker = r
	default:
		locker = lock.NewLocal()
	}

	decoder := cfg.Decoder
	s, err := New(transcode.NewLoader(&decoder), store, locker, cfg.Calibration)
	if err != nil {
		closeAll()
		return nil, err
	}
	s.closers = closers

	s.logger.Info("Service ready", logging.Fields{
		"storage": cfg.Storage.Backend,
		"root":    cfg.Storage.Root,
		"lock":    cfg.Lock.Backend,
	})
	return s, nil
}

func openStore(cfg config.StorageConfig) (profile.Store, io.Closer, error) {
	switch cfg.Backend {
	case config.StorageS3:
		client, err := storage.NewS3Client(cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		return profile.NewFiles(storage.NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix)), nil, nil
	case config.StorageBadger:
		db, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.BadgerPath()})
		if err != nil {
			return nil, nil, err
		}
		return profile.NewKV(db), db, nil
	case config.StorageMemory:
		return profile.NewFiles(storage.NewMemory()), nil, nil
	default:
		fs, err := storage.NewLocal(cfg.Root)
		if err != nil {
			return nil, nil, err
		}
		return profile.NewFiles(fs), nil, nil
	}
}

// Close releases the store and lock opened by Open.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Calibrator returns the service's calibrator.
func (s *Service) Calibrator() *anomaly.Calibrator {
	return s.calibrator
}

// Train decodes the audio file at path and trains mode on it.
func (s *Service) Train(ctx context.Context, mode anomaly.Mode, path string) (*anomaly.CalibrationResult, error) {
	audio, err := s.load(ctx, anomaly.OpTrain, mode, func() (*transcode.AudioData, error) {
		return s.loader.LoadFile(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return s.calibrator.Train(ctx, mode, audio.PCM, audio.SampleRate)
}

// TrainBytes trains mode on an encoded audio file held in memory.
func (s *Service) TrainBytes(ctx context.Context, mode anomaly.Mode, data []byte) (*anomaly.CalibrationResult, error) {
	audio, err := s.load(ctx, anomaly.OpTrain, mode, func() (*transcode.AudioData, error) {
		return s.loader.LoadBytes(ctx, data)
	})
	if err != nil {
		return nil, err
	}
	return s.calibrator.Train(ctx, mode, audio.PCM, audio.SampleRate)
}

// Diagnose decodes the audio file at path and scores it against mode.
// An untrained mode is reported before the file is read.
func (s *Service) Diagnose(ctx context.Context, mode anomaly.Mode, path string) (*anomaly.HealthReport, error) {
	if err := s.checkTrained(ctx, mode); err != nil {
		return nil, err
	}
	audio, err := s.load(ctx, anomaly.OpDiagnose, mode, func() (*transcode.AudioData, error) {
		return s.loader.LoadFile(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return s.diagnostician.Diagnose(ctx, mode, audio.PCM, audio.SampleRate)
}

// DiagnoseBytes scores an encoded audio file held in memory against mode.
func (s *Service) DiagnoseBytes(ctx context.Context, mode anomaly.Mode, data []byte) (*anomaly.HealthReport, error) {
	if err := s.checkTrained(ctx, mode); err != nil {
		return nil, err
	}
	audio, err := s.load(ctx, anomaly.OpDiagnose, mode, func() (*transcode.AudioData, error) {
		return s.loader.LoadBytes(ctx, data)
	})
	if err != nil {
		return nil, err
	}
	return s.diagnostician.Diagnose(ctx, mode, audio.PCM, audio.SampleRate)
}

func (s *Service) checkTrained(ctx context.Context, mode anomaly.Mode) error {
	if !mode.Valid() {
		return anomaly.NewError(anomaly.OpDiagnose, mode, anomaly.KindInvalidMode,
			fmt.Errorf("unknown mode %q", string(mode)))
	}
	ok, err := s.store.Exists(ctx, string(mode))
	if err != nil {
		return anomaly.NewError(anomaly.OpDiagnose, mode, anomaly.KindInternal, err)
	}
	if !ok {
		return anomaly.NewError(anomaly.OpDiagnose, mode, anomaly.KindProfileNotFound,
			fmt.Errorf("mode %s has not been trained", mode))
	}
	return nil
}

func (s *Service) load(ctx context.Context, op anomaly.Op, mode anomaly.Mode, load func() (*transcode.AudioData, error)) (*transcode.AudioData, error) {
	audio, err := load()
	switch {
	case err == nil:
		return audio, nil
	case errors.Is(err, transcode.ErrNoAudio):
		return nil, anomaly.NewError(op, mode, anomaly.KindInsufficientAudio, err)
	default:
		if ctx.Err() != nil {
			return nil, anomaly.NewError(op, mode, anomaly.KindCanceled, ctx.Err())
		}
		return nil, anomaly.NewError(op, mode, anomaly.KindAudioUnreadable, err)
	}
}

// ProfileStatus summarizes one mode's stored profile.
type ProfileStatus struct {
	Mode       anomaly.Mode `json:"mode"`
	Trained    bool         `json:"trained"`
	Threshold  float64      `json:"threshold,omitempty"`
	Windows    int          `json:"windows,omitempty"`
	Generation string       `json:"generation,omitempty"`
	TrainedAt  *time.Time   `json:"trained_at,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Status reports every mode's profile, in anomaly.Modes order.
func (s *Service) Status(ctx context.Context) ([]ProfileStatus, error) {
	out := make([]ProfileStatus, len(anomaly.Modes))
	g, gctx := errgroup.WithContext(ctx)
	for i, mode := range anomaly.Modes {
		g.Go(func() error {
			st := ProfileStatus{Mode: mode}
			meta, err := s.store.Status(gctx, string(mode))
			switch {
			case err == nil:
				st.Trained = true
				st.Threshold = meta.Threshold
				st.Windows = meta.Windows
				st.Generation = meta.Generation
				if !meta.TrainedAt.IsZero() {
					st.TrainedAt = &meta.TrainedAt
				}
			case errors.Is(err, profile.ErrNotFound):
			case errors.Is(err, profile.ErrCorrupt):
				st.Error = err.Error()
			default:
				return err
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// TrainMode trains mode on the audio file at source and returns the text
// shown to the operator.
func (s *Service) TrainMode(ctx context.Context, source, mode string) string {
	if source == "" {
		return MsgNoAudio
	}
	m, err := anomaly.ParseMode(mode)
	if err != nil {
		return FormatError(anomaly.NewError(anomaly.OpTrain, anomaly.Mode(mode), anomaly.KindInvalidMode, err))
	}
	res, err := s.Train(ctx, m, source)
	if err != nil {
		return FormatError(err)
	}
	return FormatCalibration(res)
}

// PredictHealth diagnoses the audio file at source against mode and returns
// the text shown to the operator.
func (s *Service) PredictHealth(ctx context.Context, source, mode string) string {
	if source == "" {
		return MsgNoAudio
	}
	m, err := anomaly.ParseMode(mode)
	if err != nil {
		return FormatError(anomaly.NewError(anomaly.OpDiagnose, anomaly.Mode(mode), anomaly.KindInvalidMode, err))
	}
	report, err := s.Diagnose(ctx, m, source)
	if err != nil {
		return FormatError(err)
	}
	return FormatReport(report)
}


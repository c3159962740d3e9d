package anomaly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-sentinel/algorithms/common"
	"github.com/RyanBlaney/sonido-sentinel/autoencoder"
	"github.com/RyanBlaney/sonido-sentinel/lock"
	"github.com/RyanBlaney/sonido-sentinel/logging"
	"github.com/RyanBlaney/sonido-sentinel/melspec"
	"github.com/RyanBlaney/sonido-sentinel/metrics"
	"github.com/RyanBlaney/sonido-sentinel/profile"
)

// Calibrator trains mode profiles.
type Calibrator struct {
	config    Config
	extractor *melspec.Extractor
	store     profile.Store
	locker    lock.Locker
	progress  func(mode Mode, epoch int, loss float64)
	logger    logging.Logger
}

// NewCalibrator returns a Calibrator writing to store. A nil locker means
// an in-process lock.
func NewCalibrator(store profile.Store, locker lock.Locker, config Config) (*Calibrator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration config: %w", err)
	}
	extractor, err := melspec.NewExtractor(config.Spectrogram)
	if err != nil {
		return nil, err
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Calibrator{
		config:    config,
		extractor: extractor,
		store:     store,
		locker:    locker,
		logger: logging.WithFields(logging.Fields{
			"component": "calibrator",
		}),
	}, nil
}

// SetProgress registers fn to be called after every training epoch. It must
// be called before the first Train.
func (c *Calibrator) SetProgress(fn func(mode Mode, epoch int, loss float64)) {
	c.progress = fn
}

// Train fits a fresh model to the waveform and replaces the mode's profile
// with it. Nothing is written unless every step succeeds. All errors are
// *Error values matching ErrTrainingFailed.
func (c *Calibrator) Train(ctx context.Context, mode Mode, waveform []float64, sampleRate int) (*CalibrationResult, error) {
	start := time.Now()
	logger := c.logger.WithFields(logging.Fields{
		"function": "Train",
		"mode":     mode,
	})

	result, err := c.train(ctx, mode, waveform, sampleRate, logger)
	if err != nil {
		metrics.TrainingsTotal.WithLabelValues(mode.metricLabel(), string(KindOf(err))).Inc()
		logger.Error(err, "Training failed")
		return nil, err
	}

	result.Elapsed = time.Since(start)
	metrics.TrainingsTotal.WithLabelValues(string(mode), "ok").Inc()
	metrics.TrainingDuration.WithLabelValues(string(mode)).Observe(result.Elapsed.Seconds())
	metrics.Threshold.WithLabelValues(string(mode)).Set(result.Threshold)

	logger.Info("Training completed", logging.Fields{
		"threshold":  result.Threshold,
		"mean_error": result.MeanError,
		"windows":    result.Windows,
		"final_loss": result.FinalLoss,
		"generation": result.Generation,
		"elapsed":    result.Elapsed.String(),
	})
	return result, nil
}

func (c *Calibrator) train(ctx context.Context, mode Mode, waveform []float64, sampleRate int, logger logging.Logger) (*CalibrationResult, error) {
	fail := func(kind Kind, err error) (*CalibrationResult, error) {
		return nil, NewError(OpTrain, mode, kind, err)
	}

	if !mode.Valid() {
		return fail(KindInvalidMode, fmt.Errorf("unknown mode %q", string(mode)))
	}

	unlock, err := c.locker.TryLock(ctx, "train:"+string(mode))
	if errors.Is(err, lock.ErrLocked) {
		return fail(KindTrainingInProgress, err)
	}
	if err != nil {
		return fail(KindInternal, err)
	}
	defer func() {
		if err := unlock(); err != nil {
			logger.Error(err, "Failed to release training lock")
		}
	}()

	windows, err := c.extractor.Extract(waveform, sampleRate)
	if errors.Is(err, melspec.ErrInsufficientAudio) {
		return fail(KindInsufficientAudio, err)
	}
	if err != nil {
		return fail(KindAudioUnreadable, err)
	}

	logger.Debug("Extracted training windows", logging.Fields{
		"windows": len(windows),
		"shape":   c.extractor.Shape().String(),
	})

	model, err := autoencoder.Build(c.extractor.Shape(), c.config.modelConfig())
	if err != nil {
		return fail(KindInternal, err)
	}

	fitCtx := ctx
	if c.config.TrainTimeout > 0 {
		var cancel context.CancelFunc
		fitCtx, cancel = context.WithTimeout(ctx, c.config.TrainTimeout)
		defer cancel()
	}

	opts := autoencoder.FitOptions{
		Epochs:    c.config.Epochs,
		BatchSize: c.config.BatchSize,
		Shuffle:   true,
		Seed:      c.config.Seed,
	}
	if c.progress != nil {
		opts.OnEpoch = func(epoch int, loss float64) { c.progress(mode, epoch, loss) }
	}
	history, err := model.Fit(fitCtx, windows, opts)
	if err != nil {
		return fail(KindInternal, fmt.Errorf("fit: %w", err))
	}

	residuals, err := model.ReconstructionErrors(ctx, windows)
	if err != nil {
		return fail(KindInternal, err)
	}
	maxErr := common.Max(residuals)
	threshold := maxErr * c.config.ThresholdMargin

	if err := ctx.Err(); err != nil {
		return fail(KindCanceled, err)
	}

	meta, err := c.store.Save(ctx, string(mode), model, profile.Meta{
		Threshold:  threshold,
		MaxError:   maxErr,
		Windows:    len(windows),
		SampleRate: c.config.Spectrogram.SampleRate,
	})
	if err != nil {
		return fail(KindInternal, fmt.Errorf("save profile: %w", err))
	}

	return &CalibrationResult{
		Mode:       mode,
		Threshold:  threshold,
		MaxError:   maxErr,
		MeanError:  common.Mean(residuals),
		Windows:    len(windows),
		Epochs:     len(history.Loss),
		FinalLoss:  history.FinalLoss(),
		Generation: meta.Generation,
		TrainedAt:  meta.TrainedAt,
	}, nil
}

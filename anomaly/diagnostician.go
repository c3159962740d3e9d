package anomaly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-sentinel/algorithms/common"
	"github.com/RyanBlaney/sonido-sentinel/logging"
	"github.com/RyanBlaney/sonido-sentinel/melspec"
	"github.com/RyanBlaney/sonido-sentinel/metrics"
	"github.com/RyanBlaney/sonido-sentinel/profile"
)

// Diagnostician scores audio against stored profiles. It never writes to
// the store.
type Diagnostician struct {
	config    Config
	extractor *melspec.Extractor
	store     profile.Store
	logger    logging.Logger
}

// NewDiagnostician returns a Diagnostician reading from store.
func NewDiagnostician(store profile.Store, config Config) (*Diagnostician, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid diagnosis config: %w", err)
	}
	extractor, err := melspec.NewExtractor(config.Spectrogram)
	if err != nil {
		return nil, err
	}
	return &Diagnostician{
		config:    config,
		extractor: extractor,
		store:     store,
		logger: logging.WithFields(logging.Fields{
			"component": "diagnostician",
		}),
	}, nil
}

// Diagnose reconstructs every window of the waveform with the mode's model
// and counts the windows whose error exceeds the profile threshold.
func (d *Diagnostician) Diagnose(ctx context.Context, mode Mode, waveform []float64, sampleRate int) (*HealthReport, error) {
	start := time.Now()
	logger := d.logger.WithFields(logging.Fields{
		"function": "Diagnose",
		"mode":     mode,
	})

	report, err := d.diagnose(ctx, mode, waveform, sampleRate)
	if err != nil {
		logger.Warn("Diagnosis failed", logging.Fields{
			"kind":  KindOf(err),
			"error": err.Error(),
		})
		return nil, err
	}
	report.Elapsed = time.Since(start)

	metrics.DiagnosesTotal.WithLabelValues(string(mode), string(report.Verdict)).Inc()
	metrics.HealthScore.WithLabelValues(string(mode)).Set(report.HealthScore)
	metrics.AnomalousWindows.WithLabelValues(string(mode)).Add(float64(report.Anomalies))
	metrics.AnalyzedWindows.WithLabelValues(string(mode)).Add(float64(report.Windows))

	logger.Info("Diagnosis completed", logging.Fields{
		"verdict":      report.Verdict,
		"health_score": report.HealthScore,
		"anomalies":    report.Anomalies,
		"windows":      report.Windows,
		"mean_error":   report.MeanError,
		"generation":   report.Generation,
	})
	return report, nil
}

func (d *Diagnostician) diagnose(ctx context.Context, mode Mode, waveform []float64, sampleRate int) (*HealthReport, error) {
	fail := func(kind Kind, err error) (*HealthReport, error) {
		return nil, NewError(OpDiagnose, mode, kind, err)
	}

	if !mode.Valid() {
		return fail(KindInvalidMode, fmt.Errorf("unknown mode %q", string(mode)))
	}

	ok, err := d.store.Exists(ctx, string(mode))
	if err != nil {
		return fail(KindInternal, err)
	}
	if !ok {
		return fail(KindProfileNotFound, fmt.Errorf("mode %s has not been trained", mode))
	}

	windows, err := d.extractor.Extract(waveform, sampleRate)
	if errors.Is(err, melspec.ErrInsufficientAudio) {
		return fail(KindInsufficientAudio, err)
	}
	if err != nil {
		return fail(KindAudioUnreadable, err)
	}

	p, err := d.store.Load(ctx, string(mode))
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return fail(KindProfileNotFound, err)
	case errors.Is(err, profile.ErrCorrupt):
		return fail(KindCorruptProfile, err)
	case err != nil:
		return fail(KindInternal, err)
	}
	if got, want := p.Model.InputShape(), d.extractor.Shape(); got != want {
		return fail(KindCorruptProfile, fmt.Errorf("model expects %s spectrograms, extractor produces %s", got, want))
	}

	residuals, err := p.Model.ReconstructionErrors(ctx, windows)
	if err != nil {
		return fail(KindInternal, err)
	}

	anomalies := common.CountAbove(residuals, p.Meta.Threshold)
	score := 100 * (1 - float64(anomalies)/float64(len(residuals)))
	verdict := VerdictAnomaly
	if score > d.config.HealthyScore {
		verdict = VerdictHealthy
	}

	return &HealthReport{
		Mode:        mode,
		Verdict:     verdict,
		HealthScore: score,
		Anomalies:   anomalies,
		Windows:     len(residuals),
		Errors:      residuals,
		MeanError:   common.Mean(residuals),
		Threshold:   p.Meta.Threshold,
		Generation:  p.Meta.Generation,
	}, nil
}

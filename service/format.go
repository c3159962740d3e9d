package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/RyanBlaney/sonido-sentinel/anomaly"
)

// Operator-facing messages.
const (
	MsgNoAudio         = "Please record audio first."
	MsgProfileNotFound = "Model not found. Please Train this mode first."
)

// FormatCalibration renders a successful training.
func FormatCalibration(res *anomaly.CalibrationResult) string {
	return fmt.Sprintf("Trained %s! Threshold set to %.5f", upper(res.Mode), res.Threshold)
}

// FormatReport renders a diagnosis as the four-line operator report.
func FormatReport(r *anomaly.HealthReport) string {
	status := "HEALTHY"
	if r.Verdict != anomaly.VerdictHealthy {
		status = "ANOMALY DETECTED"
	}
	return fmt.Sprintf("Result: %s\nMode: %s\nHealth Score: %.1f%%\n(Anomalies found in %d of %d seconds analyzed)",
		status, upper(r.Mode), r.HealthScore, r.Anomalies, r.Windows)
}

// FormatError renders a train or diagnose failure.
func FormatError(err error) string {
	var e *anomaly.Error
	if !errors.As(err, &e) {
		return "Error: " + err.Error()
	}

	switch e.Kind {
	case anomaly.KindProfileNotFound:
		return MsgProfileNotFound
	case anomaly.KindInsufficientAudio:
		if e.Op == anomaly.OpTrain {
			return "Error: Audio file too short or invalid."
		}
		return "Error: Audio too short."
	case anomaly.KindAudioUnreadable:
		return "Error: Could not read the audio file."
	case anomaly.KindCorruptProfile:
		return fmt.Sprintf("Error: The saved %s model is unreadable. Please Train this mode again.", upper(e.Mode))
	case anomaly.KindTrainingInProgress:
		return fmt.Sprintf("Error: %s is already being trained. Try again when it finishes.", upper(e.Mode))
	case anomaly.KindInvalidMode:
		return fmt.Sprintf("Error: Unknown mode %q. Choose idle, slow or fast.", string(e.Mode))
	case anomaly.KindCanceled:
		if e.Op == anomaly.OpTrain {
			return "Error: Training was canceled or ran out of time."
		}
		return "Error: Diagnosis was canceled."
	default:
		return "Error: " + err.Error()
	}
}

func upper(m anomaly.Mode) string {
	return strings.ToUpper(string(m))
}

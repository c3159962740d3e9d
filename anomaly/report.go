package anomaly

import "time"

// Verdict is the outcome of a diagnosis.
type Verdict string

const (
	VerdictHealthy Verdict = "HEALTHY"
	VerdictAnomaly Verdict = "ANOMALY_DETECTED"
)

// CalibrationResult describes a successful training run.
type CalibrationResult struct {
	Mode       Mode          `json:"mode"`
	Threshold  float64       `json:"threshold"`
	MaxError   float64       `json:"max_error"`
	MeanError  float64       `json:"mean_error"`
	Windows    int           `json:"windows"`
	Epochs     int           `json:"epochs"`
	FinalLoss  float64       `json:"final_loss"`
	Generation string        `json:"generation"`
	TrainedAt  time.Time     `json:"trained_at"`
	Elapsed    time.Duration `json:"elapsed"`
}

// HealthReport is the result of one diagnosis.
type HealthReport struct {
	Mode        Mode    `json:"mode"`
	Verdict     Verdict `json:"verdict"`
	HealthScore float64 `json:"health_score"`
	Anomalies   int     `json:"anomalies"`
	Windows     int     `json:"windows"`

	// Errors holds the reconstruction error of every window, in order.
	Errors     []float64     `json:"errors"`
	MeanError  float64       `json:"mean_error"`
	Threshold  float64       `json:"threshold"`
	Generation string        `json:"generation"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Healthy reports whether the verdict is HEALTHY.
func (r *HealthReport) Healthy() bool {
	return r.Verdict == VerdictHealthy
}

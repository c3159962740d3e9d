// Package metrics holds the Prometheus collectors exported by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TrainingsTotal counts training runs by mode and outcome.
	TrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonido_trainings_total",
			Help: "Total number of calibration runs",
		},
		[]string{"mode", "status"},
	)

	// TrainingDuration is the wall time of successful trainings.
	TrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sonido_training_duration_seconds",
			Help:    "Calibration wall time in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"mode"},
	)

	// Threshold is the anomaly threshold of the current profile.
	Threshold = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sonido_threshold",
			Help: "Reconstruction error threshold of the active profile",
		},
		[]string{"mode"},
	)

	// DiagnosesTotal counts completed diagnoses by verdict.
	DiagnosesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonido_diagnoses_total",
			Help: "Total number of diagnoses",
		},
		[]string{"mode", "verdict"},
	)

	// HealthScore is the score of the latest diagnosis.
	HealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sonido_health_score",
			Help: "Health score of the latest diagnosis, 0 to 100",
		},
		[]string{"mode"},
	)

	// AnomalousWindows counts windows above threshold.
	AnomalousWindows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonido_anomalous_windows_total",
			Help: "Total number of analysis windows above threshold",
		},
		[]string{"mode"},
	)

	// AnalyzedWindows counts every diagnosed window.
	AnalyzedWindows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonido_analyzed_windows_total",
			Help: "Total number of diagnosed analysis windows",
		},
		[]string{"mode"},
	)

	// RequestsTotal counts HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonido_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration is HTTP request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sonido_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RyanBlaney/sonido-sentinel/anomaly"
	"github.com/RyanBlaney/sonido-sentinel/logging"
	"github.com/RyanBlaney/sonido-sentinel/metrics"
)

// Handler serves the HTTP boundary:
//
//	POST /train?mode=idle      audio file as body, text reply
//	POST /diagnose?mode=idle   audio file as body, text reply
//	GET  /profiles             JSON status of every mode
//	GET  /healthz
//	GET  /metrics              Prometheus
type Handler struct {
	svc       *Service
	maxUpload int64
	mux       *http.ServeMux
	logger    logging.Logger
}

// NewHandler returns a Handler accepting uploads of at most maxUpload bytes.
func NewHandler(svc *Service, maxUpload int64) *Handler {
	h := &Handler{
		svc:       svc,
		maxUpload: maxUpload,
		mux:       http.NewServeMux(),
		logger: logging.WithFields(logging.Fields{
			"component": "http_handler",
		}),
	}
	h.mux.HandleFunc("/train", h.Train)
	h.mux.HandleFunc("/diagnose", h.Diagnose)
	h.mux.HandleFunc("/profiles", h.Profiles)
	h.mux.HandleFunc("/healthz", h.Healthz)
	h.mux.Handle("/metrics", promhttp.Handler())
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Train handles POST /train.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(r.Method, "/train").Observe(time.Since(start).Seconds())
	}()

	mode, data, ok := h.readUpload(w, r, "/train")
	if !ok {
		return
	}
	if len(data) == 0 {
		h.text(w, r, "/train", http.StatusBadRequest, MsgNoAudio)
		return
	}

	res, err := h.svc.TrainBytes(r.Context(), mode, data)
	if err != nil {
		h.text(w, r, "/train", statusFor(err), FormatError(err))
		return
	}
	h.text(w, r, "/train", http.StatusOK, FormatCalibration(res))
}

// Diagnose handles POST /diagnose.
func (h *Handler) Diagnose(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(r.Method, "/diagnose").Observe(time.Since(start).Seconds())
	}()

	mode, data, ok := h.readUpload(w, r, "/diagnose")
	if !ok {
		return
	}
	if len(data) == 0 {
		h.text(w, r, "/diagnose", http.StatusBadRequest, MsgNoAudio)
		return
	}

	report, err := h.svc.DiagnoseBytes(r.Context(), mode, data)
	if err != nil {
		h.text(w, r, "/diagnose", statusFor(err), FormatError(err))
		return
	}
	h.text(w, r, "/diagnose", http.StatusOK, FormatReport(report))
}

// Profiles handles GET /profiles.
func (h *Handler) Profiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.text(w, r, "/profiles", http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	status, err := h.svc.Status(r.Context())
	if err != nil {
		h.logger.Error(err, "Failed to read profile status")
		h.text(w, r, "/profiles", http.StatusInternalServerError, "Failed to read profiles")
		return
	}
	metrics.RequestsTotal.WithLabelValues(r.Method, "/profiles", "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"profiles": status,
	})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request, endpoint string) (anomaly.Mode, []byte, bool) {
	if r.Method != http.MethodPost {
		h.text(w, r, endpoint, http.StatusMethodNotAllowed, "Method not allowed")
		return "", nil, false
	}
	mode, err := anomaly.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		op := anomaly.OpTrain
		if endpoint == "/diagnose" {
			op = anomaly.OpDiagnose
		}
		e := anomaly.NewError(op, anomaly.Mode(r.URL.Query().Get("mode")), anomaly.KindInvalidMode, err)
		h.text(w, r, endpoint, http.StatusBadRequest, FormatError(e))
		return "", nil, false
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.text(w, r, endpoint, http.StatusRequestEntityTooLarge, "Error: Audio file too large.")
		} else {
			h.text(w, r, endpoint, http.StatusBadRequest, "Error: Could not read the upload.")
		}
		return "", nil, false
	}
	return mode, data, true
}

func (h *Handler) text(w http.ResponseWriter, r *http.Request, endpoint string, status int, body string) {
	metrics.RequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body+"\n")
}

func statusFor(err error) int {
	switch anomaly.KindOf(err) {
	case anomaly.KindInsufficientAudio, anomaly.KindAudioUnreadable, anomaly.KindInvalidMode:
		return http.StatusUnprocessableEntity
	case anomaly.KindProfileNotFound:
		return http.StatusNotFound
	case anomaly.KindTrainingInProgress:
		return http.StatusConflict
	case anomaly.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

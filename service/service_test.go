package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-sentinel/anomaly"
	"github.com/RyanBlaney/sonido-sentinel/config"
	"github.com/RyanBlaney/sonido-sentinel/lock"
	"github.com/RyanBlaney/sonido-sentinel/profile"
	"github.com/RyanBlaney/sonido-sentinel/storage"
	"github.com/RyanBlaney/sonido-sentinel/transcode"
)

const testRate = 4000

func testCalibration() anomaly.Config {
	cfg := anomaly.DefaultConfig()
	cfg.Spectrogram.SampleRate = testRate
	cfg.Spectrogram.MelBands = 16
	cfg.Spectrogram.FFTSize = 256
	cfg.Spectrogram.HopSize = 128
	cfg.Model.EncoderFilters = 4
	cfg.Model.BottleneckFilters = 2
	cfg.Model.LearningRate = 1e-2
	cfg.Epochs = 6
	cfg.Seed = 3
	return cfg
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	dec := transcode.DefaultDecoderConfig()
	dec.TargetSampleRate = testRate
	s, err := New(transcode.NewLoader(dec), profile.NewFiles(storage.NewMemory()), lock.NewLocal(), testCalibration())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func hum(seconds float64) []float64 {
	n := int(seconds * testRate)
	out := make([]float64, n)
	for i := range out {
		ts := float64(i) / testRate
		out[i] = 0.3*math.Sin(2*math.Pi*60*ts) + 0.1*math.Sin(2*math.Pi*180*ts) + 0.05*math.Sin(2*math.Pi*7*ts)*math.Sin(2*math.Pi*420*ts)
	}
	return out
}

func wavBytes(t *testing.T, samples []float64) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := transcode.EncodeWAV(&buf, samples, testRate); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeWAV(t *testing.T, name string, samples []float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, wavBytes(t, samples), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFormatCalibration(t *testing.T) {
	got := FormatCalibration(&anomaly.CalibrationResult{Mode: anomaly.ModeIdle, Threshold: 0.012341})
	if want := "Trained IDLE! Threshold set to 0.01234"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatReport(t *testing.T) {
	healthy := FormatReport(&anomaly.HealthReport{
		Mode: anomaly.ModeIdle, Verdict: anomaly.VerdictHealthy, HealthScore: 100, Windows: 30,
	})
	want := "Result: HEALTHY\nMode: IDLE\nHealth Score: 100.0%\n(Anomalies found in 0 of 30 seconds analyzed)"
	if healthy != want {
		t.Fatalf("got %q, want %q", healthy, want)
	}

	sick := FormatReport(&anomaly.HealthReport{
		Mode: anomaly.ModeFast, Verdict: anomaly.VerdictAnomaly, HealthScore: 62.5, Anomalies: 3, Windows: 8,
	})
	want = "Result: ANOMALY DETECTED\nMode: FAST\nHealth Score: 62.5%\n(Anomalies found in 3 of 8 seconds analyzed)"
	if sick != want {
		t.Fatalf("got %q, want %q", sick, want)
	}
}

func TestFormatError(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		err  error
		want string
	}{
		{anomaly.NewError(anomaly.OpDiagnose, anomaly.ModeIdle, anomaly.KindProfileNotFound, cause), MsgProfileNotFound},
		{anomaly.NewError(anomaly.OpTrain, anomaly.ModeIdle, anomaly.KindInsufficientAudio, cause), "Error: Audio file too short or invalid."},
		{anomaly.NewError(anomaly.OpDiagnose, anomaly.ModeIdle, anomaly.KindInsufficientAudio, cause), "Error: Audio too short."},
		{anomaly.NewError(anomaly.OpTrain, anomaly.ModeSlow, anomaly.KindTrainingInProgress, cause), "Error: SLOW is already being trained. Try again when it finishes."},
		{anomaly.NewError(anomaly.OpTrain, "turbo", anomaly.KindInvalidMode, cause), `Error: Unknown mode "turbo". Choose idle, slow or fast.`},
		{anomaly.NewError(anomaly.OpTrain, anomaly.ModeIdle, anomaly.KindInternal, cause), "Error: train idle: internal: boom"},
		{cause, "Error: boom"},
	}
	for _, tt := range tests {
		if got := FormatError(tt.err); got != tt.want {
			t.Errorf("FormatError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestTrainThenPredictHealth(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	path := writeWAV(t, "idle.wav", hum(6))

	msg := s.TrainMode(ctx, path, "idle")
	if !strings.HasPrefix(msg, "Trained IDLE! Threshold set to ") {
		t.Fatalf("TrainMode = %q", msg)
	}

	report := s.PredictHealth(ctx, path, "IDLE")
	want := "Result: HEALTHY\nMode: IDLE\nHealth Score: 100.0%\n(Anomalies found in 0 of 6 seconds analyzed)"
	if report != want {
		t.Fatalf("PredictHealth = %q, want %q", report, want)
	}
}

func TestTextOperationsWithoutAudio(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	if got := s.TrainMode(ctx, "", "idle"); got != MsgNoAudio {
		t.Fatalf("TrainMode = %q", got)
	}
	if got := s.PredictHealth(ctx, "", "idle"); got != MsgNoAudio {
		t.Fatalf("PredictHealth = %q", got)
	}
}

func TestPredictHealthUntrained(t *testing.T) {
	s := newTestService(t)
	// the file is never opened for an untrained mode
	missing := filepath.Join(t.TempDir(), "nope.wav")
	if got := s.PredictHealth(context.Background(), missing, "slow"); got != MsgProfileNotFound {
		t.Fatalf("PredictHealth = %q", got)
	}
}

func TestTrainModeErrors(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	short := writeWAV(t, "short.wav", hum(0.5))
	if got := s.TrainMode(ctx, short, "fast"); got != "Error: Audio file too short or invalid." {
		t.Fatalf("short clip: %q", got)
	}

	if got := s.TrainMode(ctx, short, "warp"); !strings.Contains(got, "Choose idle, slow or fast") {
		t.Fatalf("invalid mode: %q", got)
	}

	missing := filepath.Join(t.TempDir(), "nope.wav")
	if got := s.TrainMode(ctx, missing, "idle"); got != "Error: Could not read the audio file." {
		t.Fatalf("missing file: %q", got)
	}

	broken := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(broken, []byte("RIFF\x04\x00\x00\x00WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := s.TrainMode(ctx, broken, "idle"); got != "Error: Could not read the audio file." {
		t.Fatalf("broken file: %q", got)
	}
}

func TestStatus(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	status, err := s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(status) != len(anomaly.Modes) {
		t.Fatalf("len = %d", len(status))
	}
	for _, st := range status {
		if st.Trained {
			t.Fatalf("%s trained before any training", st.Mode)
		}
	}

	res, err := s.TrainBytes(ctx, anomaly.ModeSlow, wavBytes(t, hum(3)))
	if err != nil {
		t.Fatal(err)
	}

	status, err = s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, st := range status {
		if st.Mode != anomaly.Modes[i] {
			t.Fatalf("status[%d].Mode = %s", i, st.Mode)
		}
		if st.Mode != anomaly.ModeSlow {
			if st.Trained {
				t.Fatalf("%s should be untrained", st.Mode)
			}
			continue
		}
		if !st.Trained || st.Threshold != res.Threshold || st.Windows != 3 || st.Generation != res.Generation {
			t.Fatalf("slow status = %+v, result = %+v", st, res)
		}
		if st.TrainedAt == nil {
			t.Fatal("trained_at missing")
		}
	}
}

func TestOpenMemoryBackend(t *testing.T) {
	t.Setenv(config.DataDirEnv, "")
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageMemory
	cfg.Decoder.TargetSampleRate = testRate
	cfg.Calibration = testCalibration()

	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.DiagnoseBytes(context.Background(), anomaly.ModeIdle, wavBytes(t, hum(2))); !errors.Is(err, anomaly.ErrProfileNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenBadgerBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageBadger
	cfg.Storage.Root = t.TempDir()
	cfg.Decoder.TargetSampleRate = testRate
	cfg.Calibration = testCalibration()

	ctx := context.Background()
	s, err := Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	data := wavBytes(t, hum(2))
	if _, err := s.TrainBytes(ctx, anomaly.ModeFast, data); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	report, err := s.DiagnoseBytes(ctx, anomaly.ModeFast, data)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Healthy() || report.Windows != 2 {
		t.Fatalf("report = %+v", report)
	}
}

func TestHandlerTrainAndDiagnose(t *testing.T) {
	h := NewHandler(newTestService(t), 1<<20)
	srv := httptest.NewServer(h)
	defer srv.Close()

	body := wavBytes(t, hum(3))
	post := func(path string, data []byte) (int, string) {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "audio/wav", bytes.NewReader(data))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var b bytes.Buffer
		b.ReadFrom(resp.Body)
		return resp.StatusCode, strings.TrimSpace(b.String())
	}

	code, text := post("/diagnose?mode=idle", body)
	if code != http.StatusNotFound || text != MsgProfileNotFound {
		t.Fatalf("untrained diagnose: %d %q", code, text)
	}

	code, text = post("/train?mode=idle", body)
	if code != http.StatusOK || !strings.HasPrefix(text, "Trained IDLE!") {
		t.Fatalf("train: %d %q", code, text)
	}

	code, text = post("/diagnose?mode=idle", body)
	if code != http.StatusOK || !strings.HasPrefix(text, "Result: HEALTHY") {
		t.Fatalf("diagnose: %d %q", code, text)
	}

	code, text = post("/train?mode=idle", nil)
	if code != http.StatusBadRequest || text != MsgNoAudio {
		t.Fatalf("empty upload: %d %q", code, text)
	}

	code, _ = post("/train?mode=reverse", body)
	if code != http.StatusBadRequest {
		t.Fatalf("invalid mode: %d", code)
	}

	code, text = post("/train?mode=slow", wavBytes(t, hum(0.25)))
	if code != http.StatusUnprocessableEntity || text != "Error: Audio file too short or invalid." {
		t.Fatalf("short upload: %d %q", code, text)
	}
}

func TestHandlerUploadLimit(t *testing.T) {
	h := NewHandler(newTestService(t), 1024)
	req := httptest.NewRequest(http.MethodPost, "/train?mode=idle", bytes.NewReader(wavBytes(t, hum(1))))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	h := NewHandler(newTestService(t), 1024)
	for _, path := range []string{"/train?mode=idle", "/diagnose?mode=idle"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
}

func TestHandlerProfiles(t *testing.T) {
	h := NewHandler(newTestService(t), 1024)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profiles", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var out struct {
		Profiles []ProfileStatus `json:"profiles"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Profiles) != 3 || out.Profiles[0].Mode != anomaly.ModeIdle {
		t.Fatalf("profiles = %+v", out.Profiles)
	}
}

func TestHandlerHealthz(t *testing.T) {
	h := NewHandler(newTestService(t), 1024)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var out struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "ok" {
		t.Fatal(fmt.Sprint(out))
	}
}

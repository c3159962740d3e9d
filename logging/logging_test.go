package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"":        InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestDefaultLoggerRoutesAndFilters(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewDefaultLoggerWithWriters(&out, &errOut, false)
	l.SetLevel(InfoLevel)

	l.Debug("hidden")
	l.WithFields(Fields{"mode": "idle"}).Info("trained")
	l.Error(errors.New("boom"), "failed")

	if strings.Contains(out.String(), "hidden") {
		t.Fatal("debug message should be filtered at info level")
	}
	if !strings.Contains(out.String(), "[INFO] trained map[mode:idle]") {
		t.Fatalf("stdout = %q", out.String())
	}
	if !strings.Contains(errOut.String(), "[ERROR] failed: boom") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestWithContextCarriesFields(t *testing.T) {
	var out bytes.Buffer
	l := NewDefaultLoggerWithWriters(&out, &out, false)

	ctx := ContextWithFields(context.Background(), Fields{"request_id": "r1"})
	ctx = ContextWithFields(ctx, Fields{"mode": "fast"})
	l.WithContext(ctx).Info("hello")

	got := out.String()
	if !strings.Contains(got, "request_id:r1") || !strings.Contains(got, "mode:fast") {
		t.Fatalf("output = %q", got)
	}
}

func TestSlogLoggerEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	l := FromSlog(slog.New(slog.NewJSONHandler(&buf, nil)))
	l.WithFields(Fields{"component": "test"}).Error(errors.New("bad"), "oops", Fields{"n": 3})

	got := buf.String()
	for _, want := range []string{`"msg":"oops"`, `"component":"test"`, `"n":3`, `"error":"bad"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %s", got, want)
		}
	}
}

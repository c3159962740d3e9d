package logging

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
)

// SlogLogger adapts a *slog.Logger to Logger so the library can emit
// structured JSON (or any other slog handler) when an application asks
// for it.
type SlogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
	fields Fields
}

// FromSlog wraps logger. A nil logger falls back to a JSON handler on stderr.
func FromSlog(logger *slog.Logger) *SlogLogger {
	lv := new(slog.LevelVar)
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
	}
	return &SlogLogger{logger: logger, level: lv, fields: make(Fields)}
}

// NewJSONLogger is the --log-format json logger: slog JSON on stderr with a
// level controlled through SetLevel.
func NewJSONLogger() *SlogLogger {
	lv := new(slog.LevelVar)
	return &SlogLogger{
		logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lv})),
		level:  lv,
		fields: make(Fields),
	}
}

func (s *SlogLogger) attrs(err error, fields ...Fields) []any {
	all := make(Fields, len(s.fields))
	maps.Copy(all, s.fields)
	for _, f := range fields {
		maps.Copy(all, f)
	}
	keys := slices.Sorted(maps.Keys(all))
	args := make([]any, 0, 2*len(keys)+2)
	for _, k := range keys {
		args = append(args, slog.Any(k, all[k]))
	}
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	return args
}

func (s *SlogLogger) Debug(msg string, fields ...Fields) {
	s.logger.Debug(msg, s.attrs(nil, fields...)...)
}

func (s *SlogLogger) Info(msg string, fields ...Fields) {
	s.logger.Info(msg, s.attrs(nil, fields...)...)
}

func (s *SlogLogger) Warn(msg string, fields ...Fields) {
	s.logger.Warn(msg, s.attrs(nil, fields...)...)
}

func (s *SlogLogger) Error(err error, msg string, fields ...Fields) {
	s.logger.Error(msg, s.attrs(err, fields...)...)
}

// Fatal logs at error level and exits, matching DefaultLogger.
func (s *SlogLogger) Fatal(err error, msg string, fields ...Fields) {
	s.logger.Error(msg, append(s.attrs(err, fields...), slog.Bool("fatal", true))...)
	os.Exit(1)
}

func (s *SlogLogger) WithFields(fields Fields) Logger {
	merged := make(Fields, len(s.fields)+len(fields))
	maps.Copy(merged, s.fields)
	maps.Copy(merged, fields)
	return &SlogLogger{logger: s.logger, level: s.level, fields: merged}
}

func (s *SlogLogger) WithContext(ctx context.Context) Logger {
	if fields, ok := FieldsFromContext(ctx); ok {
		return s.WithFields(fields)
	}
	return s
}

func (s *SlogLogger) SetLevel(level Level) {
	switch level {
	case DebugLevel:
		s.level.Set(slog.LevelDebug)
	case InfoLevel:
		s.level.Set(slog.LevelInfo)
	case WarnLevel:
		s.level.Set(slog.LevelWarn)
	default:
		s.level.Set(slog.LevelError)
	}
}

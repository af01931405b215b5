package observability

import "log/slog"

// SlogLogger adapts a *slog.Logger to the pgkit Logger interface.
type SlogLogger struct {
	inner *slog.Logger
}

// NewSlogLogger wraps the provided slog logger. A nil logger uses slog's
// process default.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{inner: logger}
}

func (l *SlogLogger) Debug(msg string, fields ...Field) {
	l.inner.Debug(msg, attrs(fields)...)
}

func (l *SlogLogger) Info(msg string, fields ...Field) {
	l.inner.Info(msg, attrs(fields)...)
}

func (l *SlogLogger) Warn(msg string, fields ...Field) {
	l.inner.Warn(msg, attrs(fields)...)
}

func (l *SlogLogger) Error(msg string, fields ...Field) {
	l.inner.Error(msg, attrs(fields)...)
}

func attrs(fields []Field) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

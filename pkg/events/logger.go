package events

import (
	"log/slog"
)

// SlogLogger adapts log/slog to the Logger interface. This is the production
// default wired by cmd/agent; NoOpLogger remains the zero value for tests.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps an existing *slog.Logger. If l is nil, slog.Default()
// is used.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, args ...interface{}) { s.l.Debug(msg, args...) }
func (s *SlogLogger) Info(msg string, args ...interface{})  { s.l.Info(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...interface{})  { s.l.Warn(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...interface{}) { s.l.Error(msg, args...) }

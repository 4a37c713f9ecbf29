package sinks

import (
	"context"
	"log/slog"

	ua "github.com/panyam/userauth"
)

// LogSink writes one structured record per event
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: slog.LevelInfo}
}

// WithLevel returns a copy that logs at level
func (s *LogSink) WithLevel(level slog.Level) *LogSink {
	return &LogSink{logger: s.logger, level: level}
}

func (s *LogSink) HandleEvent(ctx context.Context, ev ua.Event) error {
	attrs := []slog.Attr{slog.String("event", ev.Kind.String())}
	if ev.User != nil {
		attrs = append(attrs, slog.String("user_id", ev.User.ID), slog.String("username", ev.User.Username))
	}
	for k, v := range ev.Context {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.LogAttrs(ctx, s.level, "auth event", attrs...)
	return nil
}

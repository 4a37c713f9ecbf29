// Package logging builds the slog.Logger used by userauth binaries.
// Records carry service and version attributes plus the OpenTelemetry trace
// and span ids when the context has them.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// Options selects the handler. Format is "json" (default), "text" or "tint".
type Options struct {
	Format  string `mapstructure:"format"`
	Level   string `mapstructure:"level"`
	Service string `mapstructure:"service"`
	Version string `mapstructure:"version"`
}

type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.service != "" {
		r.AddAttrs(slog.String("service", h.service))
	}
	if h.version != "" {
		r.AddAttrs(slog.String("version", h.version))
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}
	return h.handler.Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{handler: h.handler.WithAttrs(attrs), service: h.service, version: h.version}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{handler: h.handler.WithGroup(name), service: h.service, version: h.version}
}

// ParseLevel maps debug, info, warn and error. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Setup creates a configured slog.Logger. If w is nil, writes to os.Stderr.
func Setup(opts Options, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := ParseLevel(opts.Level)

	var base slog.Handler
	switch opts.Format {
	case "tint":
		base = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	case "text":
		base = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		base = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(&traceHandler{handler: base, service: opts.Service, version: opts.Version})
}

// SetDefault sets up and installs the default logger
func SetDefault(opts Options) *slog.Logger {
	logger := Setup(opts, nil)
	slog.SetDefault(logger)
	return logger
}

// LogError logs err with its oops code and context attributes flattened
// into the record
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error, args ...any) {
	if err == nil {
		return
	}
	args = append(args, "error", err.Error())
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok && code != "" {
			args = append(args, "code", code)
		}
		for k, v := range oopsErr.Context() {
			args = append(args, k, v)
		}
	}
	logger.ErrorContext(ctx, msg, args...)
}

package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Record keys added by RunHandler.
const (
	KeyService = "service"
	KeyEnv     = "env"
	KeyMode    = "mode"
	KeyWorker  = "worker"
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"
)

// Labels identify the process in every log record.
type Labels struct {
	Service string
	Env     string
	Mode    AppMode
}

func (l Labels) attrs() []slog.Attr {
	attrs := []slog.Attr{slog.String(KeyService, l.Service), slog.String(KeyMode, string(l.Mode))}
	if l.Env != "" {
		attrs = append(attrs, slog.String(KeyEnv, l.Env))
	}

	return attrs
}

type workerKey struct{}

// WithWorker tags ctx with the index of the worker running on it.
func WithWorker(ctx context.Context, worker int) context.Context {
	return context.WithValue(ctx, workerKey{}, worker)
}

// WorkerFrom returns the worker index set by WithWorker.
func WorkerFrom(ctx context.Context) (int, bool) {
	w, ok := ctx.Value(workerKey{}).(int)

	return w, ok
}

// RunHandler labels log records of a search run. Labels sit outside any
// group; the worker index and the episode or checkpoint span come from the
// record's context.
type RunHandler struct {
	next slog.Handler
}

// NewRunHandler wraps next with labels.
func NewRunHandler(next slog.Handler, labels Labels) *RunHandler {
	return &RunHandler{next: next.WithAttrs(labels.attrs())}
}

func (h *RunHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RunHandler) Handle(ctx context.Context, record slog.Record) error {
	if w, ok := WorkerFrom(ctx); ok {
		record.AddAttrs(slog.Int(KeyWorker, w))
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(slog.String(KeyTraceID, sc.TraceID().String()), slog.String(KeySpanID, sc.SpanID().String()))
	}

	if err := h.next.Handle(ctx, record); err != nil {
		return fmt.Errorf("log record: %w", err)
	}

	return nil
}

func (h *RunHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RunHandler{next: h.next.WithAttrs(attrs)}
}

func (h *RunHandler) WithGroup(name string) slog.Handler {
	return &RunHandler{next: h.next.WithGroup(name)}
}

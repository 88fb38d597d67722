package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// OTelHandler wraps an slog.Handler and stamps every record with the
// trace/span ID of the active OTel span, when one is present in ctx.
type OTelHandler struct {
	handler slog.Handler
}

func NewOTelHandler(handler slog.Handler) *OTelHandler {
	return &OTelHandler{handler: handler}
}

func (h *OTelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *OTelHandler) Handle(ctx context.Context, record slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return h.handler.Handle(ctx, record)
	}

	spanCtx := span.SpanContext()
	record.AddAttrs(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
	return h.handler.Handle(ctx, record)
}

func (h *OTelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &OTelHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *OTelHandler) WithGroup(name string) slog.Handler {
	return &OTelHandler{handler: h.handler.WithGroup(name)}
}

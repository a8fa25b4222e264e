package observability

import (
	"context"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

// Audit emits a structured security event tied to the request. This is
// where the internal cause of collapsed session failures is preserved.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(r.Context()),
		"remote", r.RemoteAddr,
	}
	base = append(base, traceAttrs(r.Context())...)
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}

// AuditCtx is Audit for code without an *http.Request, e.g. workers.
func AuditCtx(ctx context.Context, event string, attrs ...any) {
	base := []any{"event", event}
	base = append(base, traceAttrs(ctx)...)
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit", base...)
}

// traceAttrs stamps the active span onto audit lines so log search can
// pivot into traces.
func traceAttrs(ctx context.Context) []any {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []any{"trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String()}
}

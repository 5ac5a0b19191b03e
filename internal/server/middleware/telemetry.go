package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Svyat0y/form-builder-backend/internal/telemetry"
	"github.com/Svyat0y/form-builder-backend/internal/telemetry/domain"
)

// httpRequestMetadata is the JSON shape stored in Event.Metadata for http_request events.
type httpRequestMetadata struct {
	Method     string `json:"method"`
	Route      string `json:"route"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
}

// HTTPRecorder records request durations; *otel.Metrics implements it.
type HTTPRecorder interface {
	RecordHTTP(ctx context.Context, method, route string, status int, elapsed time.Duration)
}

// Telemetry wraps each request in a server span, records its duration and emits an http_request
// event. Paths in skip are passed through untouched. Any of tracer, recorder and emitter may be nil.
func Telemetry(tracer trace.Tracer, recorder HTTPRecorder, emitter telemetry.EventEmitter, log *zap.Logger, skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ctx, slot := withIdentitySlot(r.Context())
			var span trace.Span
			if tracer != nil {
				ctx, span = tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
				defer span.End()
			}
			r = r.WithContext(ctx)
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := statusOf(ww)
			route := routePattern(r)
			elapsed := time.Since(start)
			if span != nil {
				span.SetName(r.Method + " " + route)
				span.SetAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.HTTPResponseStatusCode(status),
					attribute.String("http.request_id", chimiddleware.GetReqID(ctx)),
				)
				if status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, strconv.Itoa(status))
				}
			}
			if recorder != nil {
				recorder.RecordHTTP(ctx, r.Method, route, status, elapsed)
			}
			if emitter == nil {
				return
			}
			var userID, sessionID string
			if id, ok := slot.get(); ok {
				userID, sessionID = id.UserID, id.SessionID
			} else if id, ok := IdentityFrom(ctx); ok {
				userID, sessionID = id.UserID, id.SessionID
			}
			event := domain.NewEvent(domain.EventHTTPRequest, "http_middleware", userID, sessionID, httpRequestMetadata{
				Method:     r.Method,
				Route:      route,
				StatusCode: status,
				DurationMs: elapsed.Milliseconds(),
				ClientIP:   ClientIP(r),
			})
			telemetry.EmitAsync(emitter, ctx, event, log)
		})
	}
}

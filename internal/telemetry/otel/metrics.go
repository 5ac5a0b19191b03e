package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Svyat0y/form-builder-backend/internal/telemetry/domain"
)

// Metrics records auth event counts and HTTP request durations.
// It implements telemetry.EventEmitter so it can sit next to the log and Kafka emitters.
type Metrics struct {
	authEvents   metric.Int64Counter
	httpDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on provider's meter.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(instrumentationName)
	authEvents, err := meter.Int64Counter("auth.events",
		metric.WithDescription("Auth events by type"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}
	httpDuration, err := meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of HTTP requests"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{authEvents: authEvents, httpDuration: httpDuration}, nil
}

// Emit counts the event under its type.
func (m *Metrics) Emit(ctx context.Context, event *domain.Event) error {
	if m == nil || event == nil {
		return nil
	}
	m.authEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", event.EventType)))
	return nil
}

// RecordHTTP records one request. route is the matched pattern, not the raw path.
func (m *Metrics) RecordHTTP(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", status),
	))
}

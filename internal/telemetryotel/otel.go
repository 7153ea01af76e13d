// Package telemetryotel adapts go.opentelemetry.io/otel tracing and metrics
// to the telemetry.Tracer/telemetry.Metrics seams, generalizing the
// teacher's clue-wrapped OTEL adapter to talk to the OTEL SDK directly (this
// module carries no dependency on goa.design/clue).
package telemetryotel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ulifeai/agentb/telemetry"
)

// instrumentationName identifies this module's span/meter instrumentation
// scope to whichever OTEL exporter the caller has configured.
const instrumentationName = "github.com/ulifeai/agentb"

type (
	// Metrics wraps an OTEL meter for runtime instrumentation.
	Metrics struct {
		meter metric.Meter
	}

	// Tracer wraps an OTEL tracer.
	Tracer struct {
		tracer trace.Tracer
	}

	span struct {
		span trace.Span
	}
)

// NewMetrics constructs a Metrics recorder against the global
// MeterProvider. Configure the provider (e.g. via an OTLP exporter) before
// the runtime starts recording.
func NewMetrics() telemetry.Metrics {
	return &Metrics{meter: otel.Meter(instrumentationName)}
}

// NewTracer constructs a Tracer against the global TracerProvider.
func NewTracer() telemetry.Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// IncCounter increments a counter metric by value, with tags as
// alternating key/value attribute pairs.
func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	c, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordTimer records a duration as a histogram of seconds.
func (m *Metrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordGauge records a point-in-time value. OTEL's synchronous instrument
// set has no gauge; a histogram under a "_gauge" suffixed name is the
// closest synchronous substitute, matching the teacher's own fallback.
func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	h, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// Start begins a new span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	newCtx, s := t.tracer.Start(ctx, name, opts...)
	return newCtx, &span{span: s}
}

func (s *span) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *span) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *span) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *span) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// tagsToAttrs converts alternating tag strings (k1, v1, k2, v2, ...) into
// OTEL attributes for metric dimensions. An odd trailing key pairs with "".
func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(tags[i], v))
	}
	return attrs
}

// kvToAttrs converts alternating key/value pairs of arbitrary types into
// OTEL attributes for span events.
func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var val any
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		switch v := val.(type) {
		case string:
			attrs = append(attrs, attribute.String(key, v))
		case int:
			attrs = append(attrs, attribute.Int(key, v))
		case int64:
			attrs = append(attrs, attribute.Int64(key, v))
		case float64:
			attrs = append(attrs, attribute.Float64(key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(key, v))
		default:
			attrs = append(attrs, attribute.String(key, toStringFallback(v)))
		}
	}
	return attrs
}

func toStringFallback(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}

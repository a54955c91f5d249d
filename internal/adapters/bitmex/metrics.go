package bitmex

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/bookkeeper/internal/telemetry"
)

type adapterMetrics struct {
	environment string

	requests     metric.Int64Counter
	requestTime  metric.Float64Histogram
	connections  metric.Int64Counter
	messages     metric.Int64Counter
	streamErrors metric.Int64Counter
}

func newAdapterMetrics() *adapterMetrics {
	meter := otel.Meter("adapter.bitmex")
	m := &adapterMetrics{environment: telemetry.Environment()}
	m.requests, _ = meter.Int64Counter("bitmex.rest.requests",
		metric.WithDescription("REST requests sent to the exchange"),
		metric.WithUnit("{request}"))
	m.requestTime, _ = meter.Float64Histogram("bitmex.rest.duration",
		metric.WithDescription("REST round trip latency"),
		metric.WithUnit("ms"))
	m.connections, _ = meter.Int64Counter("bitmex.ws.connections",
		metric.WithDescription("Websocket connection state transitions"),
		metric.WithUnit("{event}"))
	m.messages, _ = meter.Int64Counter("bitmex.ws.messages",
		metric.WithDescription("Websocket text frames received"),
		metric.WithUnit("{message}"))
	m.streamErrors, _ = meter.Int64Counter("bitmex.ws.errors",
		metric.WithDescription("Websocket dial and read failures"),
		metric.WithUnit("{error}"))
	return m
}

func (m *adapterMetrics) recordRequest(method, endpoint, result string, elapsed time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	attrs := metric.WithAttributes(telemetry.RequestAttributes(m.environment, method, endpoint, result)...)
	m.requests.Add(context.Background(), 1, attrs)
	m.requestTime.Record(context.Background(), float64(elapsed.Microseconds())/1000, attrs)
}

func (m *adapterMetrics) recordConnection(state string) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.ConnectionAttributes(m.environment, state)...))
}

func (m *adapterMetrics) recordMessage() {
	if m == nil || m.messages == nil {
		return
	}
	m.messages.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.AttrEnvironment.String(m.environment)))
}

func (m *adapterMetrics) recordStreamError() {
	if m == nil || m.streamErrors == nil {
		return
	}
	m.streamErrors.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.AttrEnvironment.String(m.environment)))
}

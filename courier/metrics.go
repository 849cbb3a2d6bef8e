package courier

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments for client request execution. A nil
// *metrics records nothing, so instrument creation failures degrade to a
// silent client rather than an unusable one.
type metrics struct {
	// requestDuration measures terminal request duration in seconds,
	// with buckets per OTel semconv for HTTP latencies.
	requestDuration metric.Float64Histogram

	// responseBodySize measures fully-buffered response bodies in bytes.
	responseBodySize metric.Int64Histogram

	// activeRequests tracks physical transport calls in flight.
	activeRequests metric.Int64UpDownCounter

	// requestErrors counts classified failures by error kind.
	requestErrors metric.Int64Counter
}

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.requestDuration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Duration of HTTP client requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	m.responseBodySize, err = meter.Int64Histogram(
		"http.client.response.body.size",
		metric.WithDescription("Size of HTTP client response bodies in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(
			0, 100, 1024, 10*1024, 100*1024, 1024*1024, 10*1024*1024,
		),
	)
	if err != nil {
		return nil, err
	}

	m.activeRequests, err = meter.Int64UpDownCounter(
		"http.client.active_requests",
		metric.WithDescription("Number of active HTTP client requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.requestErrors, err = meter.Int64Counter(
		"http.client.request.error",
		metric.WithDescription("Number of HTTP client request errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// recordDuration records the duration of a terminal request.
func (m *metrics) recordDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// recordResponseSize records the size of a fully-buffered response body.
func (m *metrics) recordResponseSize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.responseBodySize == nil {
		return
	}
	m.responseBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

// recordActiveStart records a transport call entering flight.
func (m *metrics) recordActiveStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// recordActiveEnd records a transport call leaving flight.
func (m *metrics) recordActiveEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
}

// recordError counts one classified failure.
func (m *metrics) recordError(ctx context.Context, kind Kind, attrs []attribute.KeyValue) {
	if m == nil || m.requestErrors == nil {
		return
	}
	attrs = append(attrs, attribute.String("error.type", kind.String()))
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

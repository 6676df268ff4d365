package httpclient

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10}
	sizeBuckets    = []float64{0, 100, 1 << 10, 10 << 10, 100 << 10, 1 << 20, 10 << 20}
	retryBuckets   = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
)

// metrics holds the instruments the client records into. A nil *metrics
// records nothing.
type metrics struct {
	requestDuration  metric.Float64Histogram
	requestBodySize  metric.Int64Histogram
	responseBodySize metric.Int64Histogram
	activeRequests   metric.Int64UpDownCounter
	requestErrors    metric.Int64Counter // by error.type

	// Retry loop: one attempt per resend, exhausted once per give-up,
	// duration covering every attempt and wait.
	retryAttempts  metric.Int64Counter
	retryExhausted metric.Int64Counter
	retryDuration  metric.Float64Histogram

	breakerRequests metric.Int64Counter // by breaker.outcome
	breakerState    metric.Int64Gauge   // 0 closed, 1 half-open, 2 open

	rebuilds metric.Int64Counter // by rebuild.outcome
}

// instruments creates instruments on a meter, keeping the first error so
// newMetrics can check once at the end.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) keep(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

func (b *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram("http.client."+name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	b.keep(err)
	return h
}

func (b *instruments) bytes(name, desc string) metric.Int64Histogram {
	h, err := b.meter.Int64Histogram("http.client."+name,
		metric.WithDescription(desc),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	)
	b.keep(err)
	return h
}

func (b *instruments) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter("http.client."+name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.keep(err)
	return c
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	b := &instruments{meter: meter}

	m := &metrics{
		requestDuration:  b.seconds("request.duration", "Duration of client requests", latencyBuckets),
		requestBodySize:  b.bytes("request.body.size", "Size of request bodies sent"),
		responseBodySize: b.bytes("response.body.size", "Size of response bodies received"),
		requestErrors:    b.counter("request.error", "Requests that ended in an error", "{error}"),
		retryAttempts:    b.counter("retry.attempts", "Resends after a transport failure", "{attempt}"),
		retryExhausted:   b.counter("retry.exhausted", "Requests that failed after their last retry", "{request}"),
		retryDuration:    b.seconds("retry.duration", "Time spent in the retry loop", retryBuckets),
		breakerRequests:  b.counter("breaker.requests", "Requests seen by the circuit breaker", "{request}"),
		rebuilds:         b.counter("rebuilds", "Engine rebuilds after a configuration change", "{rebuild}"),
	}

	var err error
	m.activeRequests, err = meter.Int64UpDownCounter("http.client.active_requests",
		metric.WithDescription("Requests currently in flight"),
		metric.WithUnit("{request}"),
	)
	b.keep(err)

	m.breakerState, err = meter.Int64Gauge("http.client.breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 half-open, 2 open"),
	)
	b.keep(err)

	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

func (m *metrics) recordRequestDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m != nil {
		m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
}

func (m *metrics) recordRequestBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m != nil {
		m.requestBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
	}
}

func (m *metrics) recordResponseBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m != nil {
		m.responseBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
	}
}

func (m *metrics) recordActiveRequestStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m != nil {
		m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *metrics) recordActiveRequestEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m != nil {
		m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
	}
}

// recordError counts a failed request under errorType, as produced by
// classifyError or errorTypeFromStatusCode.
func (m *metrics) recordError(ctx context.Context, errorType string, attrs []attribute.KeyValue) {
	if m != nil {
		m.requestErrors.Add(ctx, 1, withAttrs(attrs, attribute.String("error.type", errorType)))
	}
}

func (m *metrics) recordRetryAttempt(ctx context.Context, attrs []attribute.KeyValue, attempt int) {
	if m != nil {
		m.retryAttempts.Add(ctx, 1, withAttrs(attrs, attribute.Int("retry.attempt", attempt)))
	}
}

func (m *metrics) recordRetryExhausted(ctx context.Context, attrs []attribute.KeyValue) {
	if m != nil {
		m.retryExhausted.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *metrics) recordRetryDuration(ctx context.Context, attrs []attribute.KeyValue, d time.Duration) {
	if m != nil {
		m.retryDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
}

// recordBreakerRequest counts one request passing the breaker. outcome is
// "success", "failure" or "rejected".
func (m *metrics) recordBreakerRequest(ctx context.Context, attrs []attribute.KeyValue, outcome string) {
	if m != nil {
		m.breakerRequests.Add(ctx, 1, withAttrs(attrs, attribute.String("breaker.outcome", outcome)))
	}
}

func (m *metrics) recordBreakerState(ctx context.Context, attrs []attribute.KeyValue, state int64) {
	if m != nil {
		m.breakerState.Record(ctx, state, metric.WithAttributes(attrs...))
	}
}

func (m *metrics) recordRebuild(ctx context.Context, attrs []attribute.KeyValue, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.rebuilds.Add(ctx, 1, withAttrs(attrs, attribute.String("rebuild.outcome", outcome)))
}

// withAttrs builds the measurement option for attrs plus extra without
// touching attrs' backing array.
func withAttrs(attrs []attribute.KeyValue, extra ...attribute.KeyValue) metric.MeasurementOption {
	out := make([]attribute.KeyValue, 0, len(attrs)+len(extra))
	out = append(out, attrs...)
	return metric.WithAttributes(append(out, extra...)...)
}

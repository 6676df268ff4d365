package httpclient

import (
	"context"
	"testing"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp
}

func spanAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestOtelDoer_Span(t *testing.T) {
	exporter, tp := newTestTracer(t)
	mock := NewMockEngine().StubResponse(http.StatusOK, "hello")
	c := newTestClient(t, mock,
		WithTracerProvider(tp),
		WithServiceName("price-scraper"),
		WithImpersonate("chrome"),
	)

	resp, err := c.Get(t.Context(), "https://example.com/items")
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "HTTP GET", span.Name)
	assert.Equal(t, trace.SpanKindClient, span.SpanKind)
	assert.Equal(t, codes.Unset, span.Status.Code)

	want := map[string]attribute.Value{
		"http.client.name":          attribute.StringValue("price-scraper"),
		"http.request.method":       attribute.StringValue(http.MethodGet),
		"url.full":                  attribute.StringValue("https://example.com/items"),
		"url.scheme":                attribute.StringValue("https"),
		"server.address":            attribute.StringValue("example.com"),
		"server.port":               attribute.IntValue(443),
		"request.id":                attribute.StringValue(resp.RequestID()),
		"impersonate.target":        attribute.StringValue(c.ImpersonateTarget()),
		"http.response.status_code": attribute.IntValue(http.StatusOK),
		"network.protocol.version":  attribute.StringValue("2"),
		"http.response.body.size":   attribute.Int64Value(5),
	}
	for key, value := range want {
		got, ok := spanAttr(span.Attributes, key)
		if assert.True(t, ok, key) {
			assert.Equal(t, value, got, key)
		}
	}
	_, ok := spanAttr(span.Attributes, "url.final")
	assert.False(t, ok)
}

func TestOtelDoer_ErrorStatus(t *testing.T) {
	tests := []struct {
		name          string
		mock          *MockEngine
		wantErrorType string
		wantEvents    int
	}{
		{
			name:          "given a 404, then the status code is the error type",
			mock:          NewMockEngine().StubResponse(http.StatusNotFound, ""),
			wantErrorType: "404",
		},
		{
			name:          "given a network error, then it is classified",
			mock:          NewMockEngine().StubError(&netError{msg: "no route"}),
			wantErrorType: "network_error",
			wantEvents:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter, tp := newTestTracer(t)
			c := newTestClient(t, tt.mock, WithTracerProvider(tp))

			_, _ = c.Get(t.Context(), "https://example.com/")

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, codes.Error, spans[0].Status.Code)
			got, ok := spanAttr(spans[0].Attributes, "error.type")
			require.True(t, ok)
			assert.Equal(t, tt.wantErrorType, got.AsString())
			assert.Len(t, spans[0].Events, tt.wantEvents)
		})
	}
}

func TestOtelDoer_RetryEvents(t *testing.T) {
	exporter, tp := newTestTracer(t)
	mock := NewMockEngine().
		StubFuncError(failFirst(2), &netError{msg: "reset"}).
		StubResponse(http.StatusOK, "")
	c := newTestClient(t, mock, WithTracerProvider(tp), WithRetry(3, 0))

	_, err := c.Get(t.Context(), "https://example.com/")
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	var retries int
	for _, ev := range spans[0].Events {
		if ev.Name == "http.retry" {
			retries++
		}
	}
	assert.Equal(t, 2, retries)
	count, ok := spanAttr(spans[0].Attributes, "http.retry_count")
	require.True(t, ok)
	assert.Equal(t, int64(2), count.AsInt64())
}

func TestOtelDoer_Propagation(t *testing.T) {
	t.Run("given no propagator, then no trace header is sent", func(t *testing.T) {
		_, tp := newTestTracer(t)
		mock := NewMockEngine().StubResponse(http.StatusOK, "")
		c := newTestClient(t, mock, WithTracerProvider(tp))

		ctx, parent := tp.Tracer("test").Start(t.Context(), "parent")
		defer parent.End()
		_, err := c.Get(ctx, "https://example.com/")
		require.NoError(t, err)

		assert.Empty(t, mock.LastRequest().Header.Get("Traceparent"))
	})

	t.Run("given a propagator, then the trace context is injected", func(t *testing.T) {
		_, tp := newTestTracer(t)
		mock := NewMockEngine().StubResponse(http.StatusOK, "")
		c := newTestClient(t, mock, WithTracerProvider(tp), WithPropagators(propagation.TraceContext{}))

		ctx, parent := tp.Tracer("test").Start(t.Context(), "parent")
		defer parent.End()
		_, err := c.Get(ctx, "https://example.com/")
		require.NoError(t, err)

		traceparent := mock.LastRequest().Header.Get("Traceparent")
		assert.Contains(t, traceparent, parent.SpanContext().TraceID().String())
	})
}

func TestServerAttributes(t *testing.T) {
	tests := []struct {
		url      string
		wantPort int
	}{
		{url: "https://example.com/", wantPort: 443},
		{url: "http://example.com/", wantPort: 80},
		{url: "https://example.com:8443/", wantPort: 8443},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			attrs := serverAttributes(newEngineRequest(t, http.MethodGet, tt.url, nil))

			host, ok := spanAttr(attrs, "server.address")
			require.True(t, ok)
			assert.Equal(t, "example.com", host.AsString())
			port, ok := spanAttr(attrs, "server.port")
			require.True(t, ok)
			assert.Equal(t, int64(tt.wantPort), port.AsInt64())
		})
	}
}

func TestErrorTypeFromStatusCode(t *testing.T) {
	assert.Empty(t, errorTypeFromStatusCode(http.StatusOK))
	assert.Empty(t, errorTypeFromStatusCode(http.StatusFound))
	assert.Equal(t, "403", errorTypeFromStatusCode(http.StatusForbidden))
	assert.Equal(t, "502", errorTypeFromStatusCode(http.StatusBadGateway))
}

// Package httpclient provides an HTTP client that impersonates real browsers,
// with a live configuration and OpenTelemetry instrumentation.
//
// # Features
//
//   - Browser TLS and HTTP/2 fingerprints through the tls-client engine
//   - Exact header order on the wire, browser default headers per target and OS
//   - Cookie jar shared by every request, with names kept after deletion
//   - Raw, form, JSON and streamed multipart bodies
//   - Settings that can be changed at any time; each change rebuilds the engine
//   - Opt-in retry, rate limiting, circuit breaking and chaos injection
//   - OpenTelemetry tracing and metrics, structured zerolog logging
//
// # Quick Start
//
// Basic usage with the fluent request builder:
//
//	client, err := httpclient.New(
//	    httpclient.WithImpersonate("chrome_131"),
//	    httpclient.WithImpersonateOS(httpclient.OSWindows),
//	)
//	if err != nil {
//	    return err
//	}
//
//	// Simple GET request
//	resp, err := client.Get(ctx, "https://example.com")
//
//	// POST with a JSON body and response decoding
//	var out struct{ JSON map[string]any `json:"json"` }
//	resp, err := client.Request("https://httpbin.org/post").
//	    JSON(map[string]any{"name": "mimic"}).
//	    Decode(&out).
//	    Post(ctx)
//
// For a single request without keeping a client around:
//
//	resp, err := httpclient.Do(ctx, "GET", "https://example.com",
//	    httpclient.WithImpersonate("firefox"),
//	)
//
// # Header Order
//
// Ordered headers are sent in the given order, led by Host and the body's
// Content-Length and Content-Type. A "cookie" entry marks where the jar's
// cookies go; without one they follow the list, and priority always ends it:
//
//	client.Request(u).
//	    OrderedHeaders(httpclient.NewHeaders(
//	        "user-agent", "Mozilla/5.0 ...",
//	        "cookie", "",
//	        "accept", "*/*",
//	    )).
//	    Get(ctx)
//
// Headers set through Headers/Header are merged with the impersonated
// browser's defaults instead.
//
// # Live Configuration
//
// Every setting has a getter and a setter on Client. Setters validate the
// new value, build a new engine, and only then replace the old one:
//
//	if err := client.SetProxy("socks5://127.0.0.1:1080"); err != nil {
//	    // the client still uses its previous proxy
//	}
//
// Requests already in flight finish on the engine they started with.
//
// # Cookies
//
// Client.Cookies returns the jar. Deleted cookies are kept as empty-valued
// entries so later responses can set them again under the same name;
// Compact drops them:
//
//	_ = client.Cookies().Set("session", "abc")
//	_ = client.Cookies().Delete("session")
//	client.Cookies().Compact()
//
// # Resilience
//
// Retry covers transport failures only and waits a constant backoff:
//
//	httpclient.WithRetry(2, 500*time.Millisecond)
//
// Rate limiting and circuit breaking keep their state across rebuilds:
//
//	httpclient.WithRateLimit(httpclient.DefaultRateLimitConfig())
//	httpclient.WithCircuitBreaker(httpclient.DefaultBreakerConfig())
//
// # Observability
//
// Every send opens a client span named "HTTP {method}" and records request
// metrics. Trace context is only injected when WithPropagators is set,
// since the extra header would be visible next to the browser's own.
//
// # Testing
//
// MockEngine replaces the network send while keeping configuration checks,
// header ordering and body encoding real:
//
//	mock := httpclient.NewMockEngine()
//	mock.StubResponse(200, `{"ok":true}`)
//	client, _ := httpclient.New(httpclient.WithMockEngine(mock))
//
// # Debug Utilities
//
// WithGenerateCurl renders an equivalent cURL command on every Response, and
// WithDebug logs requests and responses at Debug level.
package httpclient

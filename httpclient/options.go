package httpclient

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/mimic/httpclient"

	// envProxy supplies a proxy URL when none is configured.
	envProxy = "PRIMP_PROXY"

	// envCABundle and envCACertFile supply a CA bundle path, in that order,
	// when none is configured.
	envCABundle   = "PRIMP_CA_BUNDLE"
	envCACertFile = "CA_CERT_FILE"

	defaultMaxRedirects = 20
)

// =============================================================================
// Config - Engine Transport Configuration
// =============================================================================

// Config holds the connection-level knobs handed to the impersonation engine.
// Use DefaultConfig() to get a properly initialized configuration,
// then modify specific fields as needed.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Timeout = 10 * time.Second
//	cfg.MaxIdleConnsPerHost = 25
//
//	client, err := httpclient.New(
//	    httpclient.WithConfig(cfg),
//	    httpclient.WithImpersonate("chrome_131"),
//	)
type Config struct {
	// =======================================================================
	// Request Timeout
	// =======================================================================

	// Timeout bounds a whole request: connect, TLS handshake, redirects
	// and reading the response headers. A request-level timeout replaces it.
	//
	// A Timeout of zero means no timeout.
	//
	// Default: 30s
	Timeout time.Duration

	// =======================================================================
	// Connection Pool Settings
	// =======================================================================

	// IdleConnTimeout is how long an idle connection stays pooled.
	//
	// Default: 90s
	IdleConnTimeout time.Duration

	// MaxIdleConns caps idle connections across all hosts.
	//
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections kept for each host.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps idle plus active connections per host.
	// Zero means unlimited.
	//
	// Default: 100
	MaxConnsPerHost int

	// =======================================================================
	// TCP Dial Settings
	// =======================================================================

	// DialTimeout is the maximum time to establish a TCP connection.
	//
	// Default: 10s
	DialTimeout time.Duration

	// TCPKeepAlive is the keep-alive probe interval for new connections.
	// Negative disables keep-alive probes.
	//
	// Default: 30s
	TCPKeepAlive time.Duration

	// TCPNoDelay requests Nagle's algorithm off. Go's dialer disables Nagle
	// on every TCP connection after the engine's dial hooks run, so false
	// cannot turn it back on; building a client with false logs a warning.
	//
	// Default: true
	TCPNoDelay bool

	// =======================================================================
	// Protocol Settings
	// =======================================================================

	// DisableCompression stops the engine from decompressing response
	// bodies transparently.
	//
	// Default: false
	DisableCompression bool
}

// DefaultConfig returns a balanced configuration suitable for most use cases.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,

		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,

		DialTimeout:  10 * time.Second,
		TCPKeepAlive: 30 * time.Second,
		TCPNoDelay:   true,
	}
}

// HighThroughputConfig returns a configuration for crawlers and scrapers
// keeping many concurrent requests open to the same sites.
//
// Key differences from DefaultConfig:
//   - Larger pools and unlimited connections per host
//   - Longer idle timeout to reuse warmed-up TLS sessions
//
// Example:
//
//	client, err := httpclient.New(
//	    httpclient.WithConfig(httpclient.HighThroughputConfig()),
//	    httpclient.WithImpersonate("chrome"),
//	)
func HighThroughputConfig() Config {
	return Config{
		Timeout: 60 * time.Second,

		IdleConnTimeout:     120 * time.Second,
		MaxIdleConns:        500,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // Unlimited for bursts

		DialTimeout:  10 * time.Second,
		TCPKeepAlive: 30 * time.Second,
		TCPNoDelay:   true,
	}
}

// LowLatencyConfig returns a configuration that fails fast.
//
// Key differences from DefaultConfig:
//   - Shorter request and dial timeouts
//   - Smaller pool with a shorter idle timeout
func LowLatencyConfig() Config {
	return Config{
		Timeout: 5 * time.Second,

		IdleConnTimeout:     60 * time.Second,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     50,

		DialTimeout:  2 * time.Second,
		TCPKeepAlive: 15 * time.Second,
		TCPNoDelay:   true,
	}
}

// ConservativeConfig returns a resource-conscious configuration for
// processes holding many clients at once (one per proxy or identity).
func ConservativeConfig() Config {
	return Config{
		Timeout: 20 * time.Second,

		IdleConnTimeout:     30 * time.Second,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		MaxConnsPerHost:     20,

		DialTimeout:  10 * time.Second,
		TCPKeepAlive: 30 * time.Second,
		TCPNoDelay:   true,
	}
}

// =============================================================================
// Settings - User-settable Client Configuration
// =============================================================================

// Settings is the full user-settable configuration of a Client. Every field
// can be seeded through an Option and changed later through a setter on
// Client; each change rebuilds the engine handle. Snapshot returns a copy.
type Settings struct {
	Transport Config

	// Basic auth. Password may be empty.
	Username    string
	Password    string
	HasAuth     bool
	BearerToken string

	// Default query parameters, replaced wholesale by request-level params.
	Params Pairs

	// Headers are unordered client defaults. OrderedHeaders, when set,
	// takes priority and is laid out per request instead.
	Headers        map[string]string
	OrderedHeaders Headers

	// CookieStore persists cookies received from servers into the jar.
	CookieStore bool
	// SplitCookies sends one cookie header per cookie instead of one merged header.
	SplitCookies bool
	// Referer sets the Referer header on redirected requests.
	Referer bool

	Proxy         string
	Impersonate   string
	ImpersonateOS string

	FollowRedirects bool
	MaxRedirects    int

	Verify     bool
	CACertFile string
	HTTPSOnly  bool

	// HTTP1Only wins when both restrictions are set.
	HTTP1Only bool
	HTTP2Only bool

	RandomTLSExtensionOrder bool

	// Retry of transport failures; zero RetryCount disables it.
	RetryCount   int
	RetryBackoff time.Duration
}

// defaultSettings returns the documented defaults.
func defaultSettings() Settings {
	return Settings{
		Transport:       DefaultConfig(),
		CookieStore:     true,
		Referer:         true,
		FollowRedirects: true,
		MaxRedirects:    defaultMaxRedirects,
		Verify:          true,
	}
}

// clone returns a deep copy so a pending rebuild never shares maps or
// slices with the active handle.
func (s Settings) clone() Settings {
	out := s
	out.Params = s.Params.Clone()
	out.OrderedHeaders = s.OrderedHeaders.Clone()
	if s.Headers != nil {
		out.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds the construction-time configuration: the initial
// Settings plus everything that stays fixed for the client's lifetime.
type internalConfig struct {
	settings Settings

	// seedCookies are written into the jar once at construction.
	seedCookies Pairs

	// cookieStore backs the CookieJar. Default: tls_client.NewCookieJar with empty values allowed.
	cookieStore CookieStore

	// === Logging ===

	// Logger receives the per-request "response" line and rebuild warnings.
	Logger zerolog.Logger

	// Debug enables request/response Debug lines.
	Debug bool

	// GenerateCurl renders a cURL command for every request on its Response.
	GenerateCurl bool

	// === OpenTelemetry Configuration ===

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Metrics        *metrics

	// Propagators injects trace context into outgoing headers. Nil by
	// default: extra headers would change the impersonated fingerprint.
	Propagators propagation.TextMapPropagator

	// ServiceName identifies the client on spans, metrics and breaker state.
	ServiceName string

	// === Resilience ===

	RateLimitConfig *RateLimitConfig
	BreakerConfig   *BreakerConfig
	ChaosConfig     *ChaosConfig

	limiter *rate.Limiter
	breaker CircuitBreaker

	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor

	// MaxInFlight bounds this client's concurrent sends. Zero means unbounded.
	MaxInFlight int64

	// MockEngine replaces the real engine, for tests.
	MockEngine *MockEngine
}

// newConfig creates a new internal config with defaults and applies options.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		settings:       defaultSettings(),
		Logger:         defaultLogger,
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Initialize metrics (ignore errors, will just be nil if fails)
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	// Limiter and breaker outlive rebuilds, so they are created once here.
	if cfg.RateLimitConfig != nil {
		cfg.limiter = newLimiter(*cfg.RateLimitConfig)
	}
	if cfg.BreakerConfig != nil {
		cfg.breaker = newCircuitBreaker(cfg)
	}

	return cfg
}

// baseAttributes returns common attributes for all spans and metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// breakerName identifies the circuit breaker in metrics and shared stores.
func (cfg *internalConfig) breakerName() string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return "mimic-http-client"
}

// proxyFromEnv returns the configured proxy or the environment default.
func proxyFromEnv(proxy string) string {
	if proxy != "" {
		return proxy
	}
	return os.Getenv(envProxy)
}

// caBundlePath returns the configured CA bundle path or the environment default.
func caBundlePath(configured string) string {
	if configured != "" {
		return configured
	}
	if p := os.Getenv(envCABundle); p != "" {
		return p
	}
	return os.Getenv(envCACertFile)
}

// =============================================================================
// Options - Functional Options for Client Configuration
// =============================================================================

// Option configures the HTTP client.
type Option func(*internalConfig)

// WithConfig sets the engine transport configuration.
// Use DefaultConfig(), HighThroughputConfig(), LowLatencyConfig(), or
// ConservativeConfig() as a starting point, then customize as needed.
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.settings.Transport = c
	}
}

// WithTimeout sets the client-wide request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.settings.Transport.Timeout = d
	}
}

// WithAuth sets HTTP basic credentials sent with every request. Basic auth
// wins over a bearer token when both are configured.
func WithAuth(username, password string) Option {
	return func(cfg *internalConfig) {
		cfg.settings.Username = username
		cfg.settings.Password = password
		cfg.settings.HasAuth = true
	}
}

// WithBearerAuth sets a bearer token sent with every request.
func WithBearerAuth(token string) Option {
	return func(cfg *internalConfig) {
		cfg.settings.BearerToken = token
	}
}

// WithParams sets default query parameters.
func WithParams(params Pairs) Option {
	return func(cfg *internalConfig) {
		cfg.settings.Params = params.Clone()
	}
}

// WithHeaders sets unordered default headers.
func WithHeaders(headers map[string]string) Option {
	return func(cfg *internalConfig) {
		cfg.settings.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			cfg.settings.Headers[k] = v
		}
	}
}

// WithOrderedHeaders sets default headers whose order is reproduced on the
// wire. They take priority over WithHeaders.
//
// Example:
//
//	client, err := httpclient.New(
//	    httpclient.WithImpersonate("chrome_131"),
//	    httpclient.WithOrderedHeaders(httpclient.NewHeaders(
//	        "user-agent", "Mozilla/5.0 ...",
//	        "accept", "*/*",
//	        "accept-language", "en-US,en;q=0.9",
//	    )),
//	)
func WithOrderedHeaders(headers Headers) Option {
	return func(cfg *internalConfig) {
		cfg.settings.OrderedHeaders = headers.Clone()
	}
}

// WithCookies seeds the cookie jar at construction.
func WithCookies(cookies Pairs) Option {
	return func(cfg *internalConfig) {
		cfg.seedCookies = cookies.Clone()
	}
}

// WithCookieStore enables or disables persisting server cookies into the jar.
//
// Default: true
func WithCookieStore(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.settings.CookieStore = enabled
	}
}

// WithCookieBackend replaces the store beneath the cookie jar.
func WithCookieBackend(store CookieStore) Option {
	return func(cfg *internalConfig) {
		cfg.cookieStore = store
	}
}

// WithSplitCookies sends every cookie as its own cookie header, the way
// HTTP/2 browsers do, instead of one merged header.
//
// Default: false
func WithSplitCookies(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.settings.SplitCookies = enabled
	}
}

// WithReferer enables or disables setting Referer on redirects.
//
// Default: true
func WithReferer(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.settings.Referer = enabled
	}
}

// WithProxy routes every request through proxy. Supported schemes are
// http, https, socks4, socks5 and socks5h. When unset, PRIMP_PROXY is used.
func WithProxy(proxy string) Option {
	return func(cfg *internalConfig) {
		cfg.settings.Proxy = proxy
	}
}

// WithImpersonate selects the browser fingerprint, e.g. "chrome_131",
// "firefox_133", "safari_ios_17_0" or a bare family such as "chrome".
// See Targets for the accepted names.
func WithImpersonate(target string) Option {
	return func(cfg *internalConfig) {
		cfg.settings.Impersonate = target
	}
}

// WithImpersonateOS selects the operating system the fingerprint claims:
// android, ios, linux, macos or windows.
//
// Default: macos
func WithImpersonateOS(os string) Option {
	return func(cfg *internalConfig) {
		cfg.settings.ImpersonateOS = os
	}
}

// WithFollowRedirects enables or disables following redirects.
//
// Default: true
func WithFollowRedirects(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.settings.FollowRedirects = enabled
	}
}

// WithMaxRedirects bounds the number of redirects followed.
//
// Default: 20
func WithMaxRedirects(n int) Option {
	return func(cfg *internalConfig) {
		cfg.settings.MaxRedirects = n
	}
}

// WithVerify enables or disables TLS certificate verification.
//
// Default: true
func WithVerify(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.settings.Verify = enabled
	}
}

// WithCACertFile trusts the PEM bundle at path instead of the system roots.
// When unset, PRIMP_CA_BUNDLE and then CA_CERT_FILE are consulted. An
// unreadable bundle is logged and the system roots are used.
func WithCACertFile(path string) Option {
	return func(cfg *internalConfig) {
		cfg.settings.CACertFile = path
	}
}

// WithHTTPSOnly refuses plain-http URLs, including redirect targets.
func WithHTTPSOnly(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.settings.HTTPSOnly = enabled
	}
}

// WithHTTP1Only restricts the client to HTTP/1.1.
func WithHTTP1Only(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.settings.HTTP1Only = enabled
	}
}

// WithHTTP2Only keeps the client off HTTP/3. The engine has no strict
// HTTP/2-only mode, so this is the closest restriction it offers: TLS
// origins negotiate h2 through ALPN, but a server that only offers
// HTTP/1.1 still gets HTTP/1.1. WithHTTP1Only wins when both are set.
func WithHTTP2Only(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.settings.HTTP2Only = enabled
	}
}

// WithRandomTLSExtensionOrder shuffles TLS extensions per connection, as
// current Chrome releases do.
func WithRandomTLSExtensionOrder(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.settings.RandomTLSExtensionOrder = enabled
	}
}

// WithRetry retries failed sends count times, waiting a constant backoff
// between attempts. Only transport failures are retried: never HTTP status
// codes, caller cancellation, or requests whose body cannot be replayed.
//
// Default: 0 (no retry)
func WithRetry(count int, backoff time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.settings.RetryCount = count
		cfg.settings.RetryBackoff = backoff
	}
}

// WithLogger replaces the package logger for this client.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "scraper").Logger()
//	client, err := httpclient.New(httpclient.WithLogger(logger))
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithDebug logs every request and response at Debug level.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Debug = enabled
	}
}

// WithGenerateCurl renders an equivalent cURL command on every Response.
func WithGenerateCurl(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.GenerateCurl = enabled
	}
}

// WithServiceName sets an identifier for this client in traces and metrics.
// This value is added as the "http.client.name" attribute on all spans.
//
// Example:
//
//	client, err := httpclient.New(
//	    httpclient.WithServiceName("price-scraper"),
//	)
//
//	// In your traces, you'll see:
//	//   Span: HTTP GET
//	//   └── http.client.name: price-scraper
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithPropagators injects trace context into every outgoing request.
// Nothing is injected by default.
//
// Example:
//
//	client, err := httpclient.New(
//	    httpclient.WithPropagators(propagation.TraceContext{}),
//	)
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		cfg.Propagators = p
	}
}

// WithRateLimit throttles the client's sends.
//
// Example:
//
//	client, err := httpclient.New(
//	    httpclient.WithRateLimit(httpclient.RateLimitConfig{
//	        RequestsPerSecond: 2,
//	        Burst:             1,
//	        WaitOnLimit:       true,
//	    }),
//	)
func WithRateLimit(rl RateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RateLimitConfig = &rl
	}
}

// WithCircuitBreaker wraps the engine in a circuit breaker.
//
// Example:
//
//	client, err := httpclient.New(
//	    httpclient.WithCircuitBreaker(httpclient.DefaultBreakerConfig()),
//	)
func WithCircuitBreaker(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &bc
	}
}

// WithChaos injects latency and failures above the engine. Use it only in
// development and tests.
func WithChaos(cc ChaosConfig) Option {
	return func(cfg *internalConfig) {
		cfg.ChaosConfig = &cc
	}
}

// WithRequestInterceptor adds interceptors run, in order, on every send.
func WithRequestInterceptor(interceptors ...RequestInterceptor) Option {
	return func(cfg *internalConfig) {
		cfg.requestInterceptors = append(cfg.requestInterceptors, interceptors...)
	}
}

// WithResponseInterceptor adds interceptors run, in order, on every
// response that arrives without a transport error.
func WithResponseInterceptor(interceptors ...ResponseInterceptor) Option {
	return func(cfg *internalConfig) {
		cfg.responseInterceptors = append(cfg.responseInterceptors, interceptors...)
	}
}

// WithMaxInFlight bounds how many of this client's requests may be in
// flight at once. Further sends wait for a slot or their context.
func WithMaxInFlight(n int64) Option {
	return func(cfg *internalConfig) {
		cfg.MaxInFlight = n
	}
}

// WithMockEngine replaces the impersonation engine with mock. Configuration
// is still validated on every build; only the network send is stubbed.
func WithMockEngine(mock *MockEngine) Option {
	return func(cfg *internalConfig) {
		cfg.MockEngine = mock
	}
}

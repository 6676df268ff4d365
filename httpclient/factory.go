package httpclient

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/rs/zerolog"
)

// handle is one compiled engine client together with the settings it was
// built from. A handle is never modified after construction; a rebuild
// produces a new one and swaps it in.
type handle struct {
	doer      Doer
	closeIdle func()

	// defaults are applied to every request for names it does not set:
	// the impersonated browser's headers, then the unordered client headers
	// when no client ordered headers exist.
	defaults Headers

	settings Settings
	imp      *impersonation
	proxy    string
}

// release closes the idle connections of a replaced handle. Requests still
// running on it keep their connections.
func (h *handle) release() {
	if h != nil && h.closeIdle != nil {
		h.closeIdle()
	}
}

// buildHandle compiles s into a handle. Every setting is validated before
// the engine is constructed, so a failure leaves nothing half-built.
func buildHandle(cfg *internalConfig, s Settings) (*handle, error) {
	imp, err := resolveImpersonation(s.Impersonate, s.ImpersonateOS)
	if err != nil {
		return nil, err
	}

	proxy, err := validateProxy(proxyFromEnv(s.Proxy))
	if err != nil {
		return nil, err
	}

	if s.FollowRedirects && s.MaxRedirects < 0 {
		return nil, configError("redirect policy", fmt.Errorf("max redirects must not be negative, got %d", s.MaxRedirects))
	}

	if s.HTTP1Only && s.HTTP2Only {
		cfg.Logger.Debug().Msg("both http1-only and http2-only set, using http1-only")
	}

	if !s.Transport.TCPNoDelay {
		cfg.Logger.Warn().Msg("tcp no-delay cannot be turned off, Nagle stays disabled")
	}

	var pool *x509.CertPool
	if s.Verify {
		pool = loadCertPool(caBundlePath(s.CACertFile), cfg.Logger)
	}

	var (
		engine    Doer
		closeIdle func()
	)
	if cfg.MockEngine != nil {
		engine = cfg.MockEngine
	} else {
		tc, err := tls_client.NewHttpClient(newEngineLogger(cfg.Logger), engineOptions(s, imp, proxy, pool)...)
		if err != nil {
			return nil, configError("build engine", err)
		}
		engine, closeIdle = tc, tc.CloseIdleConnections
	}

	return &handle{
		doer:      wrapEngine(engine, cfg, s),
		closeIdle: closeIdle,
		defaults:  defaultHeaderSet(imp, s),
		settings:  s,
		imp:       imp,
		proxy:     proxy,
	}, nil
}

// engineOptions translates settings into tls-client options.
func engineOptions(s Settings, imp *impersonation, proxy string, pool *x509.CertPool) []tls_client.HttpClientOption {
	t := s.Transport
	idle := t.IdleConnTimeout

	opts := []tls_client.HttpClientOption{
		// Timeouts are enforced per request through the context so that a
		// request-level timeout can exceed the client default.
		tls_client.WithTimeoutMilliseconds(0),
		tls_client.WithDialer(net.Dialer{
			Timeout:   t.DialTimeout,
			KeepAlive: t.TCPKeepAlive,
		}),
		tls_client.WithTransportOptions(&tls_client.TransportOptions{
			IdleConnTimeout:     &idle,
			MaxIdleConns:        t.MaxIdleConns,
			MaxIdleConnsPerHost: t.MaxIdleConnsPerHost,
			MaxConnsPerHost:     t.MaxConnsPerHost,
			DisableCompression:  t.DisableCompression,
			RootCAs:             pool,
		}),
	}

	if imp != nil {
		opts = append(opts, tls_client.WithClientProfile(imp.profile))
	}
	if proxy != "" {
		opts = append(opts, tls_client.WithProxyUrl(proxy))
	}
	if !s.Verify {
		opts = append(opts, tls_client.WithInsecureSkipVerify())
	}

	switch {
	case s.HTTP1Only:
		opts = append(opts, tls_client.WithForceHttp1())
	case s.HTTP2Only:
		opts = append(opts, tls_client.WithDisableHttp3())
	}

	if s.RandomTLSExtensionOrder {
		opts = append(opts, tls_client.WithRandomTLSExtensionOrder())
	}

	if s.FollowRedirects {
		opts = append(opts, tls_client.WithCustomRedirectFunc(redirectPolicy(s)))
	} else {
		opts = append(opts, tls_client.WithNotFollowRedirects())
	}

	return opts
}

// redirectPolicy bounds the redirect chain, enforces https-only on every
// hop, drops the automatic Referer when disabled and lets the request's
// send state carry cookies across hops.
func redirectPolicy(s Settings) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= s.MaxRedirects {
			return fmt.Errorf("%w: stopped after %d", ErrRedirectLimit, s.MaxRedirects)
		}
		if s.HTTPSOnly && !strings.EqualFold(req.URL.Scheme, "https") {
			return fmt.Errorf("%w: redirect to %s", ErrHTTPSOnly, req.URL.Redacted())
		}
		if !s.Referer {
			req.Header.Del("Referer")
		}
		if st := sendStateFrom(req.Context()); st != nil {
			st.redirected(req)
		}
		return nil
	}
}

// wrapEngine layers the optional middleware around the engine, innermost
// first: fault injection, rate limiting, retry, circuit breaking,
// interceptors, then tracing and metrics.
func wrapEngine(engine Doer, cfg *internalConfig, s Settings) Doer {
	d := engine
	if cfg.ChaosConfig != nil {
		d = newChaosDoer(d, *cfg.ChaosConfig)
	}
	if cfg.RateLimitConfig != nil {
		d = newRateLimitDoer(d, cfg.limiter, *cfg.RateLimitConfig)
	}
	d = newRetryDoer(d, cfg, s.RetryCount, s.RetryBackoff)
	d = newBreakerDoer(d, cfg)
	d = newInterceptorDoer(d, cfg.requestInterceptors, cfg.responseInterceptors)
	return newOtelDoer(d, cfg)
}

// defaultHeaderSet merges the impersonated browser's headers with the
// unordered client headers. Client ordered headers are laid out per
// request instead, so they are never baked in here.
func defaultHeaderSet(imp *impersonation, s Settings) Headers {
	defaults := imp.defaultHeaders()
	if len(s.OrderedHeaders) > 0 || len(s.Headers) == 0 {
		return defaults
	}
	return defaults.Merge(sortedHeaders(s.Headers))
}

// sortedHeaders converts an unordered map into Headers sorted by name.
func sortedHeaders(m map[string]string) Headers {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	h := make(Headers, 0, len(m))
	for _, name := range names {
		h.Set(name, m[name])
	}
	return h
}

var proxySchemes = map[string]struct{}{
	"http":    {},
	"https":   {},
	"socks4":  {},
	"socks5":  {},
	"socks5h": {},
}

// validateProxy checks that raw is an absolute proxy URL with a supported scheme.
func validateProxy(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", configError("proxy", fmt.Errorf("%w: %v", ErrInvalidProxy, errors.Unwrap(err)))
	}
	if _, ok := proxySchemes[strings.ToLower(u.Scheme)]; !ok {
		return "", configError("proxy", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme))
	}
	if u.Host == "" {
		return "", configError("proxy", fmt.Errorf("%w: missing host", ErrInvalidProxy))
	}
	return u.String(), nil
}

// loadCertPool reads a PEM bundle. An unreadable or empty bundle is logged
// and nil is returned, which leaves the engine on the system roots.
func loadCertPool(path string, logger zerolog.Logger) *x509.CertPool {
	if path == "" {
		return nil
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().
			Err(ioError("read ca bundle", err)).
			Str("path", path).
			Msg("ca bundle unreadable, falling back to system roots")
		return nil
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		logger.Warn().
			Str("path", path).
			Msg("ca bundle holds no certificates, falling back to system roots")
		return nil
	}
	return pool
}

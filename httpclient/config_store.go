package httpclient

import (
	"strings"
	"time"
)

// =============================================================================
// Getters
// =============================================================================

// Snapshot returns a copy of the settings the current engine was built from.
func (c *Client) Snapshot() Settings {
	return c.snapshot().settings.clone()
}

// Headers returns a copy of the unordered default headers.
func (c *Client) Headers() map[string]string {
	return c.Snapshot().Headers
}

// OrderedHeaders returns a copy of the ordered default headers.
func (c *Client) OrderedHeaders() Headers {
	return c.snapshot().settings.OrderedHeaders.Clone()
}

// Proxy returns the proxy the engine uses, including one picked up from
// PRIMP_PROXY. Empty means a direct connection.
func (c *Client) Proxy() string {
	return c.snapshot().proxy
}

// Impersonate returns the configured impersonation target name.
func (c *Client) Impersonate() string {
	return c.snapshot().settings.Impersonate
}

// ImpersonateTarget returns the engine profile the target name resolved to,
// e.g. "chrome" resolves to the newest Chrome profile. Empty when the
// client does not impersonate.
func (c *Client) ImpersonateTarget() string {
	if imp := c.snapshot().imp; imp != nil {
		return imp.target
	}
	return ""
}

// ImpersonateOS returns the configured impersonation OS.
func (c *Client) ImpersonateOS() string {
	return c.snapshot().settings.ImpersonateOS
}

// Auth returns the basic auth credentials; ok is false when none are set.
func (c *Client) Auth() (username, password string, ok bool) {
	s := c.snapshot().settings
	return s.Username, s.Password, s.HasAuth
}

// BearerAuth returns the bearer token, empty when none is set.
func (c *Client) BearerAuth() string {
	return c.snapshot().settings.BearerToken
}

// Params returns a copy of the default query parameters.
func (c *Client) Params() Pairs {
	return c.snapshot().settings.Params.Clone()
}

// Timeout returns the default request timeout. Zero means none.
func (c *Client) Timeout() time.Duration {
	return c.snapshot().settings.Transport.Timeout
}

// SplitCookies reports whether cookies go out as one header per cookie.
func (c *Client) SplitCookies() bool {
	return c.snapshot().settings.SplitCookies
}

// =============================================================================
// Setters
//
// Each setter rebuilds the engine. It returns the rebuild error and keeps
// the previous configuration when the new one is unusable.
// =============================================================================

// SetHeaders replaces the unordered default headers. Nil clears them.
func (c *Client) SetHeaders(headers map[string]string) error {
	return c.update("headers", func(s *Settings) {
		s.Headers = copyMap(headers)
	})
}

// HeadersUpdate merges headers into the unordered defaults. Names are
// matched case-insensitively: an existing name keeps its casing and takes
// the new value.
func (c *Client) HeadersUpdate(headers map[string]string) error {
	return c.update("headers", func(s *Settings) {
		if s.Headers == nil {
			s.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			s.Headers[existingHeaderKey(s.Headers, k)] = v
		}
	})
}

// existingHeaderKey returns the key in m that matches name ignoring case,
// or name itself.
func existingHeaderKey(m map[string]string, name string) string {
	if _, ok := m[name]; ok {
		return name
	}
	for k := range m {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

// SetOrderedHeaders replaces the ordered default headers. Nil clears them.
func (c *Client) SetOrderedHeaders(headers Headers) error {
	return c.update("ordered_headers", func(s *Settings) {
		s.OrderedHeaders = headers.Clone()
	})
}

// OrderedHeadersUpdate merges headers into the ordered defaults. Existing
// names keep their position with the new value, new names are appended.
//
// Example:
//
//	// ordered: accept, user-agent
//	_ = client.OrderedHeadersUpdate(httpclient.NewHeaders(
//	    "user-agent", "B",
//	    "x-new", "1",
//	))
//	// ordered: accept, user-agent=B, x-new
func (c *Client) OrderedHeadersUpdate(headers Headers) error {
	return c.update("ordered_headers", func(s *Settings) {
		s.OrderedHeaders = s.OrderedHeaders.Merge(headers)
	})
}

// SetProxy changes the proxy. Empty falls back to PRIMP_PROXY, then to a
// direct connection.
func (c *Client) SetProxy(proxy string) error {
	return c.update("proxy", func(s *Settings) {
		s.Proxy = proxy
	})
}

// SetImpersonate changes the impersonation target. Empty disables it.
func (c *Client) SetImpersonate(target string) error {
	return c.update("impersonate", func(s *Settings) {
		s.Impersonate = target
	})
}

// SetImpersonateOS changes the impersonation OS.
func (c *Client) SetImpersonateOS(os string) error {
	return c.update("impersonate_os", func(s *Settings) {
		s.ImpersonateOS = os
	})
}

// SetAuth sets basic auth credentials.
func (c *Client) SetAuth(username, password string) error {
	return c.update("auth", func(s *Settings) {
		s.Username, s.Password, s.HasAuth = username, password, true
	})
}

// ClearAuth removes basic auth credentials.
func (c *Client) ClearAuth() error {
	return c.update("auth", func(s *Settings) {
		s.Username, s.Password, s.HasAuth = "", "", false
	})
}

// SetBearerAuth sets the bearer token. Empty clears it.
func (c *Client) SetBearerAuth(token string) error {
	return c.update("auth_bearer", func(s *Settings) {
		s.BearerToken = token
	})
}

// SetParams replaces the default query parameters.
func (c *Client) SetParams(params Pairs) error {
	return c.update("params", func(s *Settings) {
		s.Params = params.Clone()
	})
}

// SetTimeout changes the default request timeout. Zero means none.
func (c *Client) SetTimeout(d time.Duration) error {
	return c.update("timeout", func(s *Settings) {
		s.Transport.Timeout = d
	})
}

// SetSplitCookies switches between one merged Cookie header and one
// header per cookie.
func (c *Client) SetSplitCookies(enabled bool) error {
	return c.update("split_cookies", func(s *Settings) {
		s.SplitCookies = enabled
	})
}

// SetCookieStore switches persistence of received cookies.
func (c *Client) SetCookieStore(enabled bool) error {
	return c.update("cookie_store", func(s *Settings) {
		s.CookieStore = enabled
	})
}

// SetReferer switches the automatic Referer header on redirects.
func (c *Client) SetReferer(enabled bool) error {
	return c.update("referer", func(s *Settings) {
		s.Referer = enabled
	})
}

// SetFollowRedirects switches redirect following.
func (c *Client) SetFollowRedirects(enabled bool) error {
	return c.update("follow_redirects", func(s *Settings) {
		s.FollowRedirects = enabled
	})
}

// SetMaxRedirects changes the redirect budget.
func (c *Client) SetMaxRedirects(n int) error {
	return c.update("max_redirects", func(s *Settings) {
		s.MaxRedirects = n
	})
}

// SetVerify switches TLS certificate verification.
func (c *Client) SetVerify(enabled bool) error {
	return c.update("verify", func(s *Settings) {
		s.Verify = enabled
	})
}

// SetCACertFile changes the CA bundle used for verification.
func (c *Client) SetCACertFile(path string) error {
	return c.update("ca_cert_file", func(s *Settings) {
		s.CACertFile = path
	})
}

// SetHTTPSOnly switches refusal of plain http URLs.
func (c *Client) SetHTTPSOnly(enabled bool) error {
	return c.update("https_only", func(s *Settings) {
		s.HTTPSOnly = enabled
	})
}

// SetHTTP1Only restricts the engine to HTTP/1.1.
func (c *Client) SetHTTP1Only(enabled bool) error {
	return c.update("http1_only", func(s *Settings) {
		s.HTTP1Only = enabled
	})
}

// SetHTTP2Only keeps the engine off HTTP/3. See WithHTTP2Only.
func (c *Client) SetHTTP2Only(enabled bool) error {
	return c.update("http2_only", func(s *Settings) {
		s.HTTP2Only = enabled
	})
}

// SetRetry changes the retry budget for transport failures.
func (c *Client) SetRetry(count int, backoff time.Duration) error {
	return c.update("retry", func(s *Settings) {
		s.RetryCount, s.RetryBackoff = count, backoff
	})
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

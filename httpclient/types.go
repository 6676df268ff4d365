package httpclient

import (
	http "github.com/bogdanfinn/fhttp"
)

// Doer sends a single prepared request through the impersonation engine.
//
// tls_client.HttpClient satisfies Doer, and so does every middleware layer
// (tracing, retry, rate limiting, circuit breaking) wrapped around it.
// MockEngine implements it for tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts an ordinary function to the Doer interface.
type DoerFunc func(req *http.Request) (*http.Response, error)

// Do calls f(req).
func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

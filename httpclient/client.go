package httpclient

import (
	"context"
	"sync"

	tls_client "github.com/bogdanfinn/tls-client"
	"golang.org/x/sync/semaphore"
)

// Client is a browser-impersonating HTTP client with a live configuration.
//
// Every setting can be changed after construction. A change rebuilds the
// engine underneath; requests already running finish on the engine they
// started with, and a failed rebuild leaves the previous engine in place.
//
// Create a Client using New():
//
//	client, err := httpclient.New(
//	    httpclient.WithImpersonate("chrome_131"),
//	    httpclient.WithImpersonateOS(httpclient.OSWindows),
//	    httpclient.WithTimeout(15*time.Second),
//	)
//
//	resp, err := client.Request("https://example.com/search").
//	    Param("q", "golang").
//	    Get(ctx)
type Client struct {
	cfg *internalConfig

	// jar holds cookies for the lifetime of the client; rebuilds never touch it.
	jar *CookieJar

	// inflight bounds concurrent sends of this client, nil when unbounded.
	inflight *semaphore.Weighted

	// rebuildMu serializes setters so concurrent changes never lose updates.
	rebuildMu sync.Mutex

	mu      sync.RWMutex
	current *handle
}

// New creates a Client from the given options.
//
// It fails with an error of kind ErrConfig when the options describe an
// unusable client: an unknown impersonation target or OS, a malformed
// proxy URL or a negative redirect budget.
//
// Example - Basic usage:
//
//	client, err := httpclient.New(httpclient.WithImpersonate("firefox"))
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Get(ctx, "https://example.com")
//
// Example - Seeded cookies and ordered headers:
//
//	client, err := httpclient.New(
//	    httpclient.WithCookies(httpclient.NewPairs("session", "abc")),
//	    httpclient.WithOrderedHeaders(httpclient.NewHeaders(
//	        "accept", "*/*",
//	        "user-agent", "my-agent/1.0",
//	    )),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := newConfig(opts...)

	h, err := buildHandle(cfg, cfg.settings.clone())
	if err != nil {
		cfg.Metrics.recordRebuild(context.Background(), cfg.baseAttributes(), err)
		return nil, err
	}

	store := cfg.cookieStore
	if store == nil {
		store = tls_client.NewCookieJar(tls_client.WithAllowEmptyCookies())
	}

	c := &Client{
		cfg:     cfg,
		jar:     NewCookieJar(store),
		current: h,
	}
	if cfg.MaxInFlight > 0 {
		c.inflight = semaphore.NewWeighted(cfg.MaxInFlight)
	}

	if len(cfg.seedCookies) > 0 {
		if err := c.jar.Update(cfg.seedCookies); err != nil {
			h.release()
			return nil, err
		}
	}

	return c, nil
}

// Cookies returns the client's cookie jar.
func (c *Client) Cookies() *CookieJar {
	return c.jar
}

// Request starts building a request to url.
//
// Example:
//
//	resp, err := client.Request("https://httpbin.org/post").
//	    JSON(map[string]any{"name": "mimic"}).
//	    Post(ctx)
func (c *Client) Request(url string) *RequestBuilder {
	return &RequestBuilder{client: c, url: url}
}

// Get sends a GET request to url with the client's defaults.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Request(url).Get(ctx)
}

// Head sends a HEAD request to url with the client's defaults.
func (c *Client) Head(ctx context.Context, url string) (*Response, error) {
	return c.Request(url).Head(ctx)
}

// Options sends an OPTIONS request to url with the client's defaults.
func (c *Client) Options(ctx context.Context, url string) (*Response, error) {
	return c.Request(url).Options(ctx)
}

// Delete sends a DELETE request to url with the client's defaults.
func (c *Client) Delete(ctx context.Context, url string) (*Response, error) {
	return c.Request(url).Delete(ctx)
}

// Close releases the idle connections of the current engine. The client
// stays usable; the next request dials again.
func (c *Client) Close() {
	c.snapshot().release()
}

// snapshot returns the handle current at the time of the call.
func (c *Client) snapshot() *handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// update applies mutate to a copy of the current settings and rebuilds.
// The swap happens only after the new handle is complete; on failure the
// current handle stays and the error is returned.
func (c *Client) update(op string, mutate func(*Settings)) error {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	next := c.snapshot().settings.clone()
	mutate(&next)

	h, err := buildHandle(c.cfg, next)
	c.cfg.Metrics.recordRebuild(context.Background(), c.cfg.baseAttributes(), err)
	if err != nil {
		c.cfg.Logger.Warn().
			Err(err).
			Str("setting", op).
			Msg("rebuild failed, keeping previous configuration")
		return err
	}

	c.mu.Lock()
	old := c.current
	c.current = h
	c.mu.Unlock()

	old.release()

	c.cfg.Logger.Debug().Str("setting", op).Msg("client rebuilt")
	return nil
}

// Do sends a single request with a throwaway client. The cookie store is
// off, so nothing received is kept; cookies passed with WithCookies are
// still sent.
//
// Example:
//
//	resp, err := httpclient.Do(ctx, http.MethodGet, "https://example.com",
//	    httpclient.WithImpersonate("safari"),
//	)
func Do(ctx context.Context, method, url string, opts ...Option) (*Response, error) {
	c, err := New(append(opts, WithCookieStore(false))...)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return c.Request(url).Send(ctx, method)
}

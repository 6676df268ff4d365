package httpclient

import (
	"context"
	"errors"

	http "github.com/bogdanfinn/fhttp"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures client-level rate limiting. The limit is
// shared by every request of the client and survives configuration
// changes.
type RateLimitConfig struct {
	// RequestsPerSecond is the maximum sustained request rate.
	RequestsPerSecond float64

	// Burst is the maximum number of requests allowed in a burst.
	// This allows brief spikes above the rate limit.
	Burst int

	// WaitOnLimit determines behavior when rate limit is hit.
	// If true, requests wait for a token (respecting context deadline).
	// If false, requests immediately return ErrRateLimited.
	WaitOnLimit bool
}

// DefaultRateLimitConfig returns a polite crawling rate: 5 requests per
// second with a burst of 2, waiting for a token.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 5,
		Burst:             2,
		WaitOnLimit:       true,
	}
}

// ErrRateLimited is returned when a request is rejected due to rate limiting.
var ErrRateLimited = errors.New("rate limit exceeded")

// newLimiter returns nil when cfg disables limiting.
func newLimiter(cfg RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// rateLimitDoer implements Doer with rate limiting.
type rateLimitDoer struct {
	next    Doer
	limiter *rate.Limiter
	wait    bool
}

// newRateLimitDoer wraps next with limiter. A nil limiter returns next unchanged.
func newRateLimitDoer(next Doer, limiter *rate.Limiter, cfg RateLimitConfig) Doer {
	if limiter == nil {
		return next
	}
	return &rateLimitDoer{
		next:    next,
		limiter: limiter,
		wait:    cfg.WaitOnLimit,
	}
}

// Do implements Doer.
func (t *rateLimitDoer) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if t.wait {
		// Wait for token, respecting context deadline
		if err := t.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, ErrRateLimited
		}
	} else if !t.limiter.Allow() {
		return nil, ErrRateLimited
	}

	return t.next.Do(req)
}

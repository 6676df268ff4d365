package httpclient

import (
	"errors"
	"math/rand/v2"
	"net"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

// ErrChaosInjected is returned when chaos injection simulates a network error.
var ErrChaosInjected = errors.New("chaos: simulated network error")

// ChaosConfig injects faults directly above the engine, so retries, the
// circuit breaker and the caller's timeout all see them like real failures.
// Meant for development and tests.
//
// Example usage:
//
//	client, err := httpclient.New(
//	    httpclient.WithRetry(2, 100*time.Millisecond),
//	    httpclient.WithChaos(httpclient.ChaosConfig{
//	        LatencyMs: 200,
//	        ErrorRate: 0.1,
//	    }),
//	)
type ChaosConfig struct {
	// LatencyMs adds a fixed delay (in milliseconds) before every send.
	LatencyMs int

	// LatencyJitterMs adds up to this many random milliseconds on top of LatencyMs.
	LatencyJitterMs int

	// ErrorRate is the probability (0.0-1.0) of failing a send with a
	// simulated dial error.
	ErrorRate float64

	// TimeoutRate is the probability (0.0-1.0) of blocking a send until its
	// context ends.
	TimeoutRate float64
}

// Delay returns the delay for one send, jitter included.
func (c ChaosConfig) Delay() time.Duration {
	delay := time.Duration(c.LatencyMs) * time.Millisecond
	if c.LatencyJitterMs > 0 {
		delay += time.Duration(rand.IntN(c.LatencyJitterMs)) * time.Millisecond //nolint:gosec
	}
	return delay
}

func (c ChaosConfig) roll(rate float64) bool {
	return rate > 0 && rand.Float64() < rate //nolint:gosec
}

// chaosDoer wraps the engine with fault injection.
type chaosDoer struct {
	next   Doer
	config ChaosConfig
}

var _ Doer = (*chaosDoer)(nil)

func newChaosDoer(next Doer, cfg ChaosConfig) *chaosDoer {
	return &chaosDoer{next: next, config: cfg}
}

// Do injects the configured faults, then forwards req.
func (d *chaosDoer) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if d.config.roll(d.config.TimeoutRate) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if d.config.roll(d.config.ErrorRate) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: ErrChaosInjected}
	}

	if delay := d.config.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return d.next.Do(req)
}

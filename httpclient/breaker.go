package httpclient

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore creates a SharedDataStore backed by Redis for distributed circuit breaking.
// This uses the official sony/gobreaker/v2/redis implementation.
//
// Usage:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	store := httpclient.NewRedisStore(rdb)
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// CircuitBreaker is satisfied by both the local and the distributed
// gobreaker breakers.
type CircuitBreaker interface {
	Execute(req func() (*http.Response, error)) (*http.Response, error)
}

// BreakerClassifier determines if a request failure should contribute to the circuit breaker trip count.
// Returns true if the error/response indicates a system failure (e.g., 500, Network Error).
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig holds the configuration for the circuit breaker.
//
// Concepts:
//   - Closed: Normal state, requests allowed.
//   - Open: Failing state, requests rejected immediately.
//   - Half-Open: Probing state, limited requests allowed to test recovery.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is half-open (probing).
	// If 0, the circuit breaker allows 1 request.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state
	// for the CircuitBreaker to clear the internal Counts.
	// If 0, the CircuitBreaker doesn't clear internal Counts during the closed state.
	Interval time.Duration

	// Timeout is the period of the open state,
	// after which the state of the CircuitBreaker becomes half-open.
	// gobreaker uses 60s if 0.
	Timeout time.Duration

	// FailureThreshold is the minimum number of requests needed before a circuit can be tripped due to failure ratio.
	// Default: 20
	FailureThreshold uint32

	// FailureRatio is the threshold of failure ratio (0.0 - 1.0) to trip the circuit.
	// Default: 0.5 (50% failure rate)
	FailureRatio float64

	// ConsecutiveFailures is the number of consecutive failures that will trip the circuit.
	// If 0, this rule is disabled.
	ConsecutiveFailures uint32

	// Store is the shared data store for distributed circuit breaking.
	// If nil, the circuit breaker is local (in-memory).
	Store gobreaker.SharedDataStore

	// Classifier determines which errors count as failures.
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier

	// OnStateChange is a callback invoked when the circuit breaker state changes.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DistributedBreakerConfig returns a configuration for a distributed circuit breaker backed by Redis.
//
// Every process impersonating against the same site with the same service
// name shares one breaker: once one trips it, all of them back off.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerConfig returns a safe default configuration for a local (in-memory) circuit breaker.
//
// Defaults:
//   - Interval: 10s
//   - Timeout: 10s (Fail fast, recover fast)
//   - FailureThreshold: 20 (Minimum requests before triggering)
//   - FailureRatio: 0.5 (50% failure rate)
//   - ConsecutiveFailures: 5 (Trip immediately after 5 sequential failures)
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DefaultBreakerClassifier classifies 5xx responses and network errors as failures.
// 429s are left alone: they mean "slow down", not "broken".
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return isNetworkError(err)
	}
	return resp != nil && resp.StatusCode >= 500
}

// isNetworkError checks for common network errors.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// errSyntheticFailure is a sentinel error used to signal the circuit breaker
// that a request failed (e.g. 500 status) even if the engine returned no error.
// It is intercepted and unwrapped before returning to the caller.
var errSyntheticFailure = errors.New("synthetic failure")

// newCircuitBreaker builds the client's breaker from cfg.BreakerConfig.
// A distributed breaker that cannot be created degrades to a local one.
func newCircuitBreaker(cfg *internalConfig) CircuitBreaker {
	bc := cfg.BreakerConfig
	name := cfg.breakerName()

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if bc.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
				return true
			}
			if bc.FailureThreshold > 0 && counts.Requests < bc.FailureThreshold {
				return false
			}
			if bc.FailureRatio > 0 && counts.Requests > 0 {
				return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Metrics.recordBreakerState(context.Background(), cfg.baseAttributes(), int64(to))
			cfg.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[*http.Response](bc.Store, st)
		if err == nil {
			return dcb
		}
		cfg.Logger.Warn().Err(err).Str("breaker", name).Msg("distributed breaker unavailable, using local state")
	}
	return gobreaker.NewCircuitBreaker[*http.Response](st)
}

// breakerDoer is a Doer that wraps sends in a circuit breaker.
type breakerDoer struct {
	breaker    CircuitBreaker
	next       Doer
	classifier BreakerClassifier
	cfg        *internalConfig
}

// newBreakerDoer wraps next in the client's breaker. Without one, next is
// returned unchanged.
func newBreakerDoer(next Doer, cfg *internalConfig) Doer {
	if cfg.breaker == nil {
		return next
	}

	classifier := cfg.BreakerConfig.Classifier
	if classifier == nil {
		classifier = DefaultBreakerClassifier
	}

	return &breakerDoer{
		breaker:    cfg.breaker,
		next:       next,
		classifier: classifier,
		cfg:        cfg,
	}
}

// Do implements Doer.
func (t *breakerDoer) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	attrs := t.cfg.baseAttributes()

	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.Do(req) //nolint:bodyclose

		if t.classifier(resp, err) {
			if err != nil {
				return resp, err
			}
			return resp, errSyntheticFailure
		}

		return resp, err
	})
	if err != nil {
		// Differentiate between "Circuit Open" rejection and "Actual Failure"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			t.cfg.Metrics.recordBreakerRequest(ctx, attrs, "rejected")
		} else {
			t.cfg.Metrics.recordBreakerRequest(ctx, attrs, "failure")
		}

		// The server answered; hand its response back untouched.
		if errors.Is(err, errSyntheticFailure) && resp != nil {
			return resp, nil
		}

		return nil, err
	}

	t.cfg.Metrics.recordBreakerRequest(ctx, attrs, "success")
	return resp, nil
}

package httpclient

import (
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// retryDoer re-sends requests whose transport failed, waiting a constant
// delay between attempts. HTTP responses are never retried, whatever their
// status: the caller sees exactly what the server answered.
type retryDoer struct {
	next  Doer
	cfg   *internalConfig
	count int
	delay time.Duration
}

// newRetryDoer wraps next with count retries. With count <= 0 next is
// returned unchanged.
func newRetryDoer(next Doer, cfg *internalConfig, count int, delay time.Duration) Doer {
	if count <= 0 {
		return next
	}
	if delay < 0 {
		delay = 0
	}
	return &retryDoer{next: next, cfg: cfg, count: count, delay: delay}
}

// Do implements Doer with automatic retries.
func (t *retryDoer) Do(req *http.Request) (*http.Response, error) {
	// A streamed body cannot be rewound, so only one attempt is possible.
	if !replayable(req) {
		return t.next.Do(req)
	}

	ctx := req.Context()
	span := trace.SpanFromContext(ctx)

	var (
		attempt   int
		startTime = time.Now()
	)

	resp, lastErr := backoff.Retry(ctx, func() (*http.Response, error) {
		r, err := rewind(req, attempt)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := t.next.Do(r)
		if err == nil {
			return resp, nil
		}
		if !isRetryableError(err) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(t.delay)),
		backoff.WithMaxTries(uint(t.count+1)), // +1 because initial attempt is counted
		backoff.WithNotify(func(err error, next time.Duration) {
			attempt++
			t.recordRetryEvent(span, attempt, err, next)
			t.cfg.Metrics.recordRetryAttempt(ctx, t.cfg.baseAttributes(), attempt)
			t.cfg.Logger.Debug().
				Err(err).
				Int("attempt", attempt).
				Dur("delay", next).
				Msg("retrying request")
		}),
	)

	if attempt > 0 {
		span.SetAttributes(
			attribute.Int("http.retry_count", attempt),
			attribute.Bool("http.retry_success", lastErr == nil),
		)
		if lastErr != nil {
			t.cfg.Metrics.recordRetryExhausted(ctx, t.cfg.baseAttributes())
		}
	}
	t.cfg.Metrics.recordRetryDuration(ctx, t.cfg.baseAttributes(), time.Since(startTime))

	return resp, lastErr
}

// replayable reports whether req can be sent more than once.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// rewind returns the request for the given attempt: the original first,
// then clones with a fresh body.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 {
		return req, nil
	}

	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

// recordRetryEvent adds a span event for the retry attempt.
func (t *retryDoer) recordRetryEvent(span trace.Span, attempt int, err error, nextDelay time.Duration) {
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Int("retry.attempt", attempt),
		attribute.Int64("retry.delay_ms", nextDelay.Milliseconds()),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("retry.reason", classifyError(err)))
	}

	span.AddEvent("http.retry", trace.WithAttributes(attrs...))
}

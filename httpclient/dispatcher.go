package httpclient

import (
	"context"
	"sync"

	http "github.com/bogdanfinn/fhttp"
	"golang.org/x/sync/semaphore"
)

// maxProcessInFlight bounds concurrent sends across every Client in the process.
const maxProcessInFlight = 4096

// dispatcher runs sends on their own goroutines so a caller can stop
// waiting as soon as its context ends. One instance serves the whole
// process and is created on first use.
type dispatcher struct {
	slots *semaphore.Weighted
}

var processDispatcher = sync.OnceValue(func() *dispatcher {
	return &dispatcher{slots: semaphore.NewWeighted(maxProcessInFlight)}
})

type sendResult struct {
	resp *http.Response
	err  error
}

// dispatch submits send to the process dispatcher. local, when non-nil,
// additionally bounds the calling client's own concurrency.
func dispatch(ctx context.Context, local *semaphore.Weighted, send func() (*http.Response, error)) (*http.Response, error) {
	return processDispatcher().submit(ctx, local, send)
}

func (d *dispatcher) submit(ctx context.Context, local *semaphore.Weighted, send func() (*http.Response, error)) (*http.Response, error) {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if local != nil {
		if err := local.Acquire(ctx, 1); err != nil {
			d.slots.Release(1)
			return nil, err
		}
	}

	done := make(chan sendResult, 1)
	go func() {
		defer d.slots.Release(1)
		if local != nil {
			defer local.Release(1)
		}
		resp, err := send()
		done <- sendResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		// The send observes the same context and returns shortly; drain it
		// so a late response does not leak its connection.
		go func() {
			if r := <-done; r.resp != nil && r.resp.Body != nil {
				_ = r.resp.Body.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

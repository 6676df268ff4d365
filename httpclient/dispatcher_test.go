package httpclient

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestDispatch_ReturnsResult(t *testing.T) {
	want := &http.Response{StatusCode: http.StatusOK}

	got, err := dispatch(t.Context(), nil, func() (*http.Response, error) { return want, nil })

	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestDispatch_CanceledBeforeSend(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var called atomic.Bool
	_, err := dispatch(ctx, nil, func() (*http.Response, error) {
		called.Store(true)
		return nil, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called.Load())
}

func TestDispatch_CanceledDuringSend(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	release := make(chan struct{})
	body := &closeTracker{Reader: strings.NewReader("late")}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := dispatch(ctx, nil, func() (*http.Response, error) {
		<-release
		return &http.Response{StatusCode: http.StatusOK, Body: body}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.Eventually(t, body.closed.Load, time.Second, 5*time.Millisecond)
}

func TestDispatch_LocalLimit(t *testing.T) {
	local := semaphore.NewWeighted(1)
	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dispatch(t.Context(), local, func() (*http.Response, error) {
				n := active.Add(1)
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return &http.Response{StatusCode: http.StatusOK}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestDispatch_LocalLimitWaitsForContext(t *testing.T) {
	local := semaphore.NewWeighted(1)
	require.True(t, local.TryAcquire(1))
	defer local.Release(1)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := dispatch(ctx, local, func() (*http.Response, error) {
		t.Error("send must not run without a slot")
		return nil, nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_MaxInFlight(t *testing.T) {
	mock := NewMockEngine().StubResponse(http.StatusOK, "")
	var (
		active  atomic.Int32
		maxSeen atomic.Int32
	)
	mock.OnRequest(func(*http.Request) {
		n := active.Add(1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
	})
	c := newTestClient(t, mock, WithMaxInFlight(2))

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(t.Context(), "https://example.com/")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
	assert.Equal(t, 6, mock.RequestCount())
}

package httpclient

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failFirst returns a matcher that matches the first n requests.
func failFirst(n int32) func(*http.Request) bool {
	var calls atomic.Int32
	return func(*http.Request) bool {
		return calls.Add(1) <= n
	}
}

func TestRetry_TransportFailures(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		retries   int
		wantCalls int
		wantErr   bool
	}{
		{name: "given retries off, then a single attempt", failures: 1, retries: 0, wantCalls: 1, wantErr: true},
		{name: "given a flaky transport, then the retry succeeds", failures: 2, retries: 2, wantCalls: 3, wantErr: false},
		{name: "given a dead transport, then retries are exhausted", failures: 10, retries: 2, wantCalls: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockEngine().
				StubFuncError(failFirst(tt.failures), &netError{msg: "connection reset"}).
				StubResponse(http.StatusOK, "ok")
			c := newTestClient(t, mock, WithRetry(tt.retries, time.Millisecond))

			resp, err := c.Get(t.Context(), "https://example.com/")

			assert.Equal(t, tt.wantCalls, mock.RequestCount())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrTransport)
				return
			}
			require.NoError(t, err)
			text, err := resp.Text()
			require.NoError(t, err)
			assert.Equal(t, "ok", text)
		})
	}
}

func TestRetry_ReplaysBufferedBody(t *testing.T) {
	mock := NewMockEngine().
		StubFuncError(failFirst(1), &netError{msg: "broken pipe"}).
		StubResponse(http.StatusOK, "")
	c := newTestClient(t, mock, WithRetry(1, time.Millisecond))

	_, err := c.Request("https://example.com/").JSON(map[string]string{"k": "v"}).Post(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 2, mock.RequestCount())
	assert.Equal(t, `{"k":"v"}`, string(mock.LastBody()))
}

func TestRetry_StreamedBodyIsSentOnce(t *testing.T) {
	mock := NewMockEngine().StubError(&netError{msg: "connection reset"})
	c := newTestClient(t, mock, WithRetry(3, time.Millisecond))

	_, err := c.Request("https://example.com/upload").
		FileBytes("file", "a.txt", []byte("hello")).
		Post(t.Context())

	require.Error(t, err)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestRetry_NotRetried(t *testing.T) {
	tests := []struct {
		name string
		mock *MockEngine
	}{
		{name: "given a 503 response, then it is returned as is", mock: NewMockEngine().StubResponse(http.StatusServiceUnavailable, "")},
		{name: "given a redirect limit, then no retry", mock: NewMockEngine().StubError(fmt.Errorf("%w: 20 redirects", ErrRedirectLimit))},
		{name: "given a local io failure, then no retry", mock: NewMockEngine().StubError(ioError("read file part", errors.New("gone")))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.mock, WithRetry(3, time.Millisecond))

			_, _ = c.Get(t.Context(), "https://example.com/")

			assert.Equal(t, 1, tt.mock.RequestCount())
		})
	}
}

func TestRetry_StopsWhenContextEnds(t *testing.T) {
	mock := NewMockEngine().StubError(&netError{msg: "connection reset"})
	c := newTestClient(t, mock, WithRetry(100, 50*time.Millisecond))

	start := time.Now()
	_, err := c.Request("https://example.com/").Timeout(120 * time.Millisecond).Get(t.Context())

	require.Error(t, err)
	assert.Less(t, mock.RequestCount(), 10)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewRetryDoer(t *testing.T) {
	mock := NewMockEngine()
	cfg := newConfig()

	assert.Same(t, mock, newRetryDoer(mock, cfg, 0, time.Second))
	assert.Same(t, mock, newRetryDoer(mock, cfg, -1, time.Second))

	d, ok := newRetryDoer(mock, cfg, 2, -time.Second).(*retryDoer)
	require.True(t, ok)
	assert.Equal(t, 2, d.count)
	assert.Zero(t, d.delay)
}

func TestRewind(t *testing.T) {
	req := newEngineRequest(t, http.MethodPost, "https://example.com/", strings.NewReader("payload"))
	require.True(t, replayable(req))

	first, err := rewind(req, 0)
	require.NoError(t, err)
	assert.Same(t, req, first)

	second, err := rewind(req, 1)
	require.NoError(t, err)
	assert.NotSame(t, req, second)
	body, err := io.ReadAll(second.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestReplayable(t *testing.T) {
	assert.True(t, replayable(newEngineRequest(t, http.MethodGet, "https://example.com/", nil)))

	req := newEngineRequest(t, http.MethodPost, "https://example.com/", strings.NewReader("x"))
	req.GetBody = nil
	assert.False(t, replayable(req))

	req.Body = http.NoBody
	assert.True(t, replayable(req))
}

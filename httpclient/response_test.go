package httpclient

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResponse(t *testing.T, status int, body io.Reader, header http.Header) *Response {
	t.Helper()
	req := newEngineRequest(t, http.MethodGet, "https://example.com/", nil)
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Response: &http.Response{
			StatusCode: status,
			Header:     header,
			Body:       io.NopCloser(body),
			Request:    req,
		},
		URL:     "https://example.com/",
		request: req,
	}
}

func TestResponse_BodyIsCached(t *testing.T) {
	resp := newTestResponse(t, http.StatusOK, strings.NewReader("hello"), nil)

	first, err := resp.Body()
	require.NoError(t, err)
	second, err := resp.Body()
	require.NoError(t, err)
	text, err := resp.Text()
	require.NoError(t, err)

	assert.Equal(t, "hello", string(first))
	assert.Equal(t, first, second)
	assert.Equal(t, "hello", text)
}

func TestResponse_BodyReadError(t *testing.T) {
	boom := errors.New("stream reset")
	resp := newTestResponse(t, http.StatusOK, iotest.ErrReader(boom), nil)

	_, err := resp.Body()

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, boom)

	_, err = resp.Text()
	assert.Error(t, err)
}

func TestResponse_JSON(t *testing.T) {
	var out struct {
		Origin string `json:"origin"`
	}

	resp := newTestResponse(t, http.StatusOK, strings.NewReader(`{"origin":"1.2.3.4"}`), nil)
	require.NoError(t, resp.JSON(&out))
	assert.Equal(t, "1.2.3.4", out.Origin)

	resp = newTestResponse(t, http.StatusOK, strings.NewReader(`<html>`), nil)
	err := resp.JSON(&out)
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestResponse_Status(t *testing.T) {
	tests := []struct {
		status      int
		wantSuccess bool
		wantError   bool
	}{
		{status: http.StatusOK, wantSuccess: true},
		{status: http.StatusNoContent, wantSuccess: true},
		{status: http.StatusFound},
		{status: http.StatusNotFound, wantError: true},
		{status: http.StatusServiceUnavailable, wantError: true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			resp := newTestResponse(t, tt.status, strings.NewReader(""), nil)
			assert.Equal(t, tt.wantSuccess, resp.IsSuccess())
			assert.Equal(t, tt.wantError, resp.IsError())
		})
	}
}

func TestResponse_Cookies(t *testing.T) {
	header := http.Header{"Set-Cookie": {"b=2; Path=/", "a=1; HttpOnly"}}
	resp := newTestResponse(t, http.StatusOK, strings.NewReader(""), header)

	assert.Equal(t, NewPairs("b", "2", "a", "1"), resp.Cookies())

	empty := newTestResponse(t, http.StatusOK, strings.NewReader(""), nil)
	assert.Empty(t, empty.Cookies())
}

func TestResponse_DecodeEmptyBody(t *testing.T) {
	var out map[string]any
	resp := newTestResponse(t, http.StatusOK, strings.NewReader(""), nil)
	resp.result = &out

	require.NoError(t, resp.decode())
	assert.Nil(t, out)
}

func TestCancelOnClose(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	body := &cancelOnClose{ReadCloser: io.NopCloser(strings.NewReader("x")), cancel: cancel}

	require.NoError(t, ctx.Err())
	require.NoError(t, body.Close())

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestResponse_ClosingBodyEndsRequestContext(t *testing.T) {
	mock := NewMockEngine().StubResponse(http.StatusOK, "done")
	c := newTestClient(t, mock)

	resp, err := c.Get(t.Context(), "https://example.com/")
	require.NoError(t, err)
	reqCtx := resp.request.Context()
	require.NoError(t, reqCtx.Err())

	_, err = resp.Body()
	require.NoError(t, err)

	assert.ErrorIs(t, reqCtx.Err(), context.Canceled)
}

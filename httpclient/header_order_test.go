package httpclient

import (
	"testing"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
)

func TestPlanOrderedHeaders(t *testing.T) {
	type args struct {
		ordered Headers
		body    bodyMeta
		cookies Pairs
		split   bool
	}

	tests := []struct {
		name      string
		args      args
		want      Headers
		wantOrder []string
	}{
		{
			name: "given host and cookies absent from the order, then cookie follows the copied headers",
			args: args{
				ordered: NewHeaders("Host", "example.com", "X-A", "1"),
				cookies: NewPairs("a", "1", "b", "2"),
			},
			want: Headers{
				{Name: "Host", Value: "example.com"},
				{Name: "X-A", Value: "1"},
				{Name: "cookie", Value: "a=1; b=2"},
			},
			wantOrder: []string{"host", "x-a", "cookie"},
		},
		{
			name: "given a body, then content-length and content-type follow host",
			args: args{
				ordered: NewHeaders("accept", "*/*", "HOST", "example.com"),
				body:    bodyMeta{present: true, length: 11, contentType: contentTypeJSON},
			},
			want: Headers{
				{Name: "Host", Value: "example.com"},
				{Name: "Content-Length", Value: "11"},
				{Name: "Content-Type", Value: contentTypeJSON},
				{Name: "accept", Value: "*/*"},
			},
			wantOrder: []string{"host", "content-length", "content-type", "accept"},
		},
		{
			name: "given caller content-type, then the inferred one is not added and the caller's keeps its place",
			args: args{
				ordered: NewHeaders("accept", "*/*", "content-type", "text/plain"),
				body:    bodyMeta{present: true, length: 2, contentType: contentTypeForm},
			},
			want: Headers{
				{Name: "Content-Length", Value: "2"},
				{Name: "accept", Value: "*/*"},
				{Name: "content-type", Value: "text/plain"},
			},
			wantOrder: []string{"content-length", "accept", "content-type"},
		},
		{
			name: "given a streamed body, then content-length slot is reserved",
			args: args{
				ordered: NewHeaders("accept", "*/*"),
				body:    bodyMeta{present: true, streamed: true, contentType: "multipart/form-data; boundary=x"},
			},
			want: Headers{
				{Name: "Content-Length", Value: contentLengthPlaceholder},
				{Name: "Content-Type", Value: "multipart/form-data; boundary=x"},
				{Name: "accept", Value: "*/*"},
			},
			wantOrder: []string{"content-length", "content-type", "accept"},
		},
		{
			name: "given merged style with a cookie slot, then cookies take that slot",
			args: args{
				ordered: NewHeaders("user-agent", "ua", "cookie", "stale=1", "accept", "*/*"),
				cookies: NewPairs("a", "1", "b", "2"),
			},
			want: Headers{
				{Name: "user-agent", Value: "ua"},
				{Name: "cookie", Value: "a=1; b=2"},
				{Name: "accept", Value: "*/*"},
			},
			wantOrder: []string{"user-agent", "cookie", "accept"},
		},
		{
			name: "given merged style with a cookie slot and no cookies, then the caller's value stays",
			args: args{
				ordered: NewHeaders("cookie", "x=1", "accept", "*/*"),
			},
			want: Headers{
				{Name: "cookie", Value: "x=1"},
				{Name: "accept", Value: "*/*"},
			},
			wantOrder: []string{"cookie", "accept"},
		},
		{
			name: "given split style, then one cookie header per pair after the copy",
			args: args{
				ordered: NewHeaders("cookie", "", "accept", "*/*"),
				cookies: NewPairs("a", "1", "b", "2"),
				split:   true,
			},
			want: Headers{
				{Name: "accept", Value: "*/*"},
				{Name: "cookie", Value: "a=1"},
				{Name: "cookie", Value: "b=2"},
			},
			wantOrder: []string{"accept", "cookie"},
		},
		{
			name: "given split style and only a caller cookie header, then it is split into pairs",
			args: args{
				ordered: NewHeaders("cookie", "a=1; b=2", "accept", "*/*"),
				split:   true,
			},
			want: Headers{
				{Name: "accept", Value: "*/*"},
				{Name: "cookie", Value: "a=1"},
				{Name: "cookie", Value: "b=2"},
			},
			wantOrder: []string{"accept", "cookie"},
		},
		{
			name: "given priority anywhere, then it is placed last after cookies",
			args: args{
				ordered: NewHeaders("priority", "u=0, i", "accept", "*/*"),
				cookies: NewPairs("a", "1"),
			},
			want: Headers{
				{Name: "accept", Value: "*/*"},
				{Name: "cookie", Value: "a=1"},
				{Name: "priority", Value: "u=0, i"},
			},
			wantOrder: []string{"accept", "cookie", "priority"},
		},
		{
			name: "given caller content-length, then it is dropped in favor of the computed one",
			args: args{
				ordered: NewHeaders("content-length", "999", "accept", "*/*"),
			},
			want: Headers{
				{Name: "accept", Value: "*/*"},
			},
			wantOrder: []string{"accept"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planOrderedHeaders(tt.args.ordered, tt.args.body, tt.args.cookies, tt.args.split)

			assert.Equal(t, tt.want, got.headers)
			assert.Equal(t, tt.wantOrder, got.order)
		})
	}
}

func TestPlanOrderedHeaders_HostAlwaysFirst(t *testing.T) {
	bodies := []bodyMeta{
		{},
		{present: true, length: 3},
		{present: true, length: 3, contentType: contentTypeJSON},
		{present: true, streamed: true, contentType: "multipart/form-data; boundary=b"},
	}
	orders := []Headers{
		NewHeaders("a", "1", "host", "h", "b", "2"),
		NewHeaders("Host", "h"),
		NewHeaders("x", "1", "y", "2", "HOST", "h", "priority", "p"),
	}

	for _, body := range bodies {
		for _, ordered := range orders {
			got := planOrderedHeaders(ordered, body, NewPairs("c", "1"), false)

			assert.Equal(t, "host", got.order[0])
			if body.present {
				assert.Equal(t, "content-length", got.order[1])
			}
			if body.contentType != "" {
				assert.Equal(t, "content-type", got.order[2])
			}
		}
	}
}

func TestPlanUnorderedHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		body    bodyMeta
		cookies Pairs
		split   bool
		want    Headers
	}{
		{
			name:    "given merged style, then one Cookie header replaces any caller cookie",
			headers: map[string]string{"X-B": "2", "X-A": "1", "cookie": "old=1"},
			cookies: NewPairs("a", "1", "b", "2"),
			want: Headers{
				{Name: "X-A", Value: "1"},
				{Name: "X-B", Value: "2"},
				{Name: "Cookie", Value: "a=1; b=2"},
			},
		},
		{
			name:    "given split style, then one cookie header per pair",
			headers: nil,
			cookies: NewPairs("a", "1", "b", "2"),
			split:   true,
			want: Headers{
				{Name: "cookie", Value: "a=1"},
				{Name: "cookie", Value: "b=2"},
			},
		},
		{
			name:    "given an inferred content type, then it is added when missing",
			headers: map[string]string{"Accept": "*/*"},
			body:    bodyMeta{present: true, length: 3, contentType: contentTypeForm},
			want: Headers{
				{Name: "Accept", Value: "*/*"},
				{Name: "Content-Type", Value: contentTypeForm},
			},
		},
		{
			name:    "given a caller content type, then it wins",
			headers: map[string]string{"content-type": "text/plain"},
			body:    bodyMeta{present: true, length: 3, contentType: contentTypeJSON},
			want: Headers{
				{Name: "content-type", Value: "text/plain"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planUnorderedHeaders(tt.headers, tt.body, tt.cookies, tt.split)

			assert.Equal(t, tt.want, got.headers)
			assert.Nil(t, got.order)
		})
	}
}

func TestApplyHeaderPlan(t *testing.T) {
	req := newEngineRequest(t, http.MethodGet, "https://example.com/", nil)

	plan := planOrderedHeaders(
		NewHeaders("Host", "override.example.com", "accept", "*/*"),
		bodyMeta{present: true, length: 4},
		NewPairs("a", "1", "b", "2"),
		true,
	)
	applyHeaderPlan(req, plan)

	assert.Equal(t, "override.example.com", req.Host)
	assert.Equal(t, []string{"a=1", "b=2"}, req.Header["cookie"])
	assert.NotContains(t, req.Header, "Content-Length")
	assert.Equal(t, []string{"host", "content-length", "accept", "cookie"}, req.Header[http.HeaderOrderKey])
}

func TestApplyDefaultHeaders(t *testing.T) {
	defaults := NewHeaders("user-agent", "browser", "accept", "text/html", "accept-language", "en")

	t.Run("given an ordered request, then missing defaults are appended to the order", func(t *testing.T) {
		req := newEngineRequest(t, http.MethodGet, "https://example.com/", nil)
		applyHeaderPlan(req, planOrderedHeaders(NewHeaders("Accept", "*/*"), bodyMeta{}, nil, false))

		applyDefaultHeaders(req, defaults)

		assert.Equal(t, []string{"*/*"}, req.Header["Accept"])
		assert.Equal(t, []string{"browser"}, req.Header["user-agent"])
		assert.Equal(t, []string{"accept", "user-agent", "accept-language"}, req.Header[http.HeaderOrderKey])
	})

	t.Run("given cookies and priority close the order, then defaults go before them", func(t *testing.T) {
		req := newEngineRequest(t, http.MethodGet, "https://example.com/", nil)
		plan := planOrderedHeaders(NewHeaders("Host", "example.com", "x-a", "1", "priority", "u=1"), bodyMeta{}, NewPairs("a", "1"), false)
		applyHeaderPlan(req, plan)

		applyDefaultHeaders(req, NewHeaders("user-agent", "browser", "priority", "u=0, i", "accept-language", "en"))

		assert.Equal(t,
			[]string{"host", "x-a", "user-agent", "accept-language", "cookie", "priority"},
			req.Header[http.HeaderOrderKey],
		)
		assert.Equal(t, []string{"u=1"}, req.Header["priority"])
	})

	t.Run("given a default priority the request lacks, then it goes last", func(t *testing.T) {
		req := newEngineRequest(t, http.MethodGet, "https://example.com/", nil)
		applyHeaderPlan(req, planOrderedHeaders(NewHeaders("x-a", "1"), bodyMeta{}, NewPairs("a", "1", "b", "2"), true))

		applyDefaultHeaders(req, NewHeaders("priority", "u=0, i", "user-agent", "browser"))

		assert.Equal(t, []string{"x-a", "user-agent", "cookie", "priority"}, req.Header[http.HeaderOrderKey])
		assert.Equal(t, []string{"u=0, i"}, req.Header["priority"])
	})

	t.Run("given an unordered request, then the defaults' order leads", func(t *testing.T) {
		req := newEngineRequest(t, http.MethodGet, "https://example.com/", nil)
		applyHeaderPlan(req, planUnorderedHeaders(map[string]string{"X-Trace": "1", "Accept": "*/*"}, bodyMeta{}, nil, false))

		applyDefaultHeaders(req, defaults)

		assert.Equal(t, []string{"*/*"}, req.Header["Accept"])
		assert.Equal(t, []string{"user-agent", "accept", "accept-language", "x-trace"}, req.Header[http.HeaderOrderKey])
	})

	t.Run("given no defaults, then nothing changes", func(t *testing.T) {
		req := newEngineRequest(t, http.MethodGet, "https://example.com/", nil)
		applyDefaultHeaders(req, nil)
		assert.NotContains(t, req.Header, http.HeaderOrderKey)
	})
}

func TestAppendToOrder(t *testing.T) {
	tests := []struct {
		name  string
		order []string
		add   []string
		want  []string
	}{
		{
			name:  "given no trailer, then names are appended",
			order: []string{"accept"},
			add:   []string{"x-b"},
			want:  []string{"accept", "x-b"},
		},
		{
			name:  "given a cookie and priority trailer, then names go before it",
			order: []string{"host", "cookie", "priority"},
			add:   []string{"x-b", "x-c"},
			want:  []string{"host", "x-b", "x-c", "cookie", "priority"},
		},
		{
			name:  "given a cookie placed mid-order, then only the trailing run is kept last",
			order: []string{"cookie", "accept", "priority"},
			add:   []string{"x-b"},
			want:  []string{"cookie", "accept", "x-b", "priority"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, appendToOrder(tt.order, tt.add...))
		})
	}
}

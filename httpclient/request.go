package httpclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"
)

// RequestBuilder provides a fluent API for a single request. Everything set
// on the builder overrides the client default of the same kind for this
// request only.
//
// Create a RequestBuilder using Client.Request():
//
//	resp, err := client.Request("https://httpbin.org/anything").
//	    Param("page", "2").
//	    OrderedHeaders(httpclient.NewHeaders(
//	        "accept", "application/json",
//	        "user-agent", "mimic/1.0",
//	    )).
//	    JSON(payload).
//	    Post(ctx)
type RequestBuilder struct {
	client *Client
	url    string

	params    Pairs
	hasParams bool

	headers        map[string]string
	orderedHeaders Headers

	cookies    Pairs
	hasCookies bool

	body bodyInput

	auth      *basicCredentials
	bearer    string
	hasBearer bool

	timeout    time.Duration
	hasTimeout bool

	result      any
	errorResult any
}

type basicCredentials struct {
	username string
	password string
}

// Params replaces the client's default query parameters for this request.
// They are appended after any query already present in the URL.
func (rb *RequestBuilder) Params(params Pairs) *RequestBuilder {
	rb.params = params.Clone()
	rb.hasParams = true
	return rb
}

// Param adds one query parameter. Like Params, it stops the client's
// defaults from being used.
//
// Example:
//
//	client.Request(searchURL).
//	    Param("q", "golang").
//	    Param("page", "1").
//	    Get(ctx)
func (rb *RequestBuilder) Param(key, value string) *RequestBuilder {
	rb.params.Set(key, value)
	rb.hasParams = true
	return rb
}

// Headers sets unordered headers for this request. They override client
// defaults of the same name and are only used when no ordered headers
// exist for the request or the client.
func (rb *RequestBuilder) Headers(headers map[string]string) *RequestBuilder {
	if rb.headers == nil {
		rb.headers = make(map[string]string, len(headers))
	}
	for k, v := range headers {
		rb.headers[k] = v
	}
	return rb
}

// Header sets a single unordered header.
func (rb *RequestBuilder) Header(name, value string) *RequestBuilder {
	return rb.Headers(map[string]string{name: value})
}

// OrderedHeaders sets headers that are sent exactly in the given order,
// replacing the client's ordered headers for this request.
func (rb *RequestBuilder) OrderedHeaders(headers Headers) *RequestBuilder {
	rb.orderedHeaders = headers.Clone()
	return rb
}

// Cookies sends exactly these cookies instead of the jar's contents.
func (rb *RequestBuilder) Cookies(cookies Pairs) *RequestBuilder {
	rb.cookies = cookies.Clone()
	rb.hasCookies = true
	return rb
}

// Content sets a raw body. No Content-Type is inferred.
func (rb *RequestBuilder) Content(body []byte) *RequestBuilder {
	rb.body.content, rb.body.hasContent = body, true
	return rb
}

// Data sets a form body. Flat objects and key/value collections are
// url-encoded; nested objects and valid JSON strings are sent as JSON.
// Combined with files, the fields become multipart text parts.
//
// Example:
//
//	client.Request(loginURL).
//	    Data(map[string]string{"user": "alice", "pass": "secret"}).
//	    Post(ctx)
func (rb *RequestBuilder) Data(data any) *RequestBuilder {
	rb.body.data, rb.body.hasData = data, true
	return rb
}

// JSON sets a body serialized as JSON.
func (rb *RequestBuilder) JSON(v any) *RequestBuilder {
	rb.body.json, rb.body.hasJSON = v, true
	return rb
}

// File adds a multipart file part read from path. The filename is the
// path's base name and the MIME type is sniffed from the content.
func (rb *RequestBuilder) File(field, path string) *RequestBuilder {
	return rb.Files(FileFromPath{Field: field, Path: path})
}

// FileBytes adds an in-memory multipart file part.
func (rb *RequestBuilder) FileBytes(field, filename string, data []byte) *RequestBuilder {
	return rb.Files(FileFromBytes{Field: field, Filename: filename, Data: data})
}

// FileBytesWithMIME adds an in-memory multipart file part with an explicit
// MIME type.
func (rb *RequestBuilder) FileBytesWithMIME(field, filename string, data []byte, mime string) *RequestBuilder {
	return rb.Files(FileFromBytesWithMIME{Field: field, Filename: filename, Data: data, MIME: mime})
}

// Files adds multipart file parts. A request with files is sent as
// multipart/form-data.
func (rb *RequestBuilder) Files(entries ...FileEntry) *RequestBuilder {
	rb.body.files = append(rb.body.files, entries...)
	return rb
}

// Auth sets basic auth for this request.
func (rb *RequestBuilder) Auth(username, password string) *RequestBuilder {
	rb.auth = &basicCredentials{username: username, password: password}
	return rb
}

// BearerAuth sets a bearer token for this request. Basic auth, from the
// request or the client, takes precedence.
func (rb *RequestBuilder) BearerAuth(token string) *RequestBuilder {
	rb.bearer, rb.hasBearer = token, true
	return rb
}

// Timeout replaces the client timeout for this request. Zero means none.
func (rb *RequestBuilder) Timeout(d time.Duration) *RequestBuilder {
	rb.timeout, rb.hasTimeout = d, true
	return rb
}

// Decode sets a target for decoding a successful (2xx) JSON response.
//
// Example:
//
//	var ip struct{ Origin string `json:"origin"` }
//	_, err := client.Request("https://httpbin.org/ip").
//	    Decode(&ip).
//	    Get(ctx)
func (rb *RequestBuilder) Decode(v any) *RequestBuilder {
	rb.result = v
	return rb
}

// DecodeError sets a target for decoding a non-2xx JSON response.
func (rb *RequestBuilder) DecodeError(v any) *RequestBuilder {
	rb.errorResult = v
	return rb
}

// Get sends the request with method GET.
func (rb *RequestBuilder) Get(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodGet)
}

// Head sends the request with method HEAD.
func (rb *RequestBuilder) Head(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodHead)
}

// Options sends the request with method OPTIONS.
func (rb *RequestBuilder) Options(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodOptions)
}

// Delete sends the request with method DELETE.
func (rb *RequestBuilder) Delete(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodDelete)
}

// Post sends the request with method POST.
func (rb *RequestBuilder) Post(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodPost)
}

// Put sends the request with method PUT.
func (rb *RequestBuilder) Put(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodPut)
}

// Patch sends the request with method PATCH.
func (rb *RequestBuilder) Patch(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodPatch)
}

// Send sends the request with any method token. Methods are case-sensitive;
// only POST, PUT and PATCH carry a body.
func (rb *RequestBuilder) Send(ctx context.Context, method string) (*Response, error) {
	return rb.execute(ctx, method)
}

// execute builds the request against the current handle and sends it.
func (rb *RequestBuilder) execute(ctx context.Context, method string) (*Response, error) {
	c := rb.client

	if !httpguts.ValidHeaderFieldName(method) {
		return nil, methodError(method, fmt.Errorf("%q is not a valid method token", method))
	}

	// One snapshot for the whole request; a concurrent rebuild does not
	// affect it.
	h := c.snapshot()
	s := h.settings

	u, err := rb.targetURL(method, s)
	if err != nil {
		return nil, err
	}

	var body *encodedBody
	if methodCarriesBody(method) {
		if body, err = encodeBody(rb.body); err != nil {
			return nil, err
		}
	}

	cookies, fromJar := rb.cookies, false
	if !rb.hasCookies {
		cookies, fromJar = c.jar.GetAll(), true
	}

	ordered := rb.orderedHeaders
	if len(ordered) == 0 {
		ordered = s.OrderedHeaders
	}
	var plan headerPlan
	if len(ordered) > 0 {
		plan = planOrderedHeaders(ordered, body.meta(), cookies, s.SplitCookies)
	} else {
		plan = planUnorderedHeaders(rb.headers, body.meta(), cookies, s.SplitCookies)
	}

	timeout := s.Transport.Timeout
	if rb.hasTimeout {
		timeout = rb.timeout
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	requestID := uuid.NewString()
	ctx = withSendState(ctx, &sendState{
		jar:       c.jar,
		persist:   s.CookieStore,
		refresh:   fromJar,
		split:     s.SplitCookies,
		requestID: requestID,
		target:    h.imp.name(),
	})

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body.reader())
	if err != nil {
		cancel()
		body.close()
		return nil, &Error{Kind: KindConfig, Op: "build request", Method: method, URL: u.Redacted(), Err: err}
	}

	applyHeaderPlan(req, plan)
	rb.applyAuth(req, s)
	applyDefaultHeaders(req, h.defaults)

	logger := c.cfg.Logger.With().Str("request_id", requestID).Logger()
	if c.cfg.Debug {
		logRequest(logger, req)
	}

	var curl string
	if c.cfg.GenerateCurl {
		curl = generateCurlCommand(req, body)
	}

	start := time.Now()

	//nolint:bodyclose // Caller closes via Response
	httpResp, err := dispatch(ctx, c.inflight, func() (*http.Response, error) {
		return h.doer.Do(req)
	})
	if err != nil {
		cancel()
		body.close()
		err = transportError(method, u.Redacted(), err)
		logger.Debug().Err(err).Str("url", u.Redacted()).Msg("request failed")
		return nil, err
	}

	finalURL := u
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL
	}

	if s.CookieStore {
		c.jar.persist(finalURL, httpResp.Cookies())
	}

	logger.Info().
		Str("url", finalURL.Redacted()).
		Int("status", httpResp.StatusCode).
		Msg("response")
	if c.cfg.Debug {
		logResponse(logger, httpResp, time.Since(start))
	}

	if httpResp.Body == nil {
		httpResp.Body = http.NoBody
	}
	httpResp.Body = &cancelOnClose{ReadCloser: httpResp.Body, cancel: cancel}

	resp := &Response{
		Response:    httpResp,
		URL:         finalURL.String(),
		request:     req,
		requestID:   requestID,
		result:      rb.result,
		errorResult: rb.errorResult,
		curlCommand: curl,
	}

	if rb.result != nil || rb.errorResult != nil {
		if err := resp.decode(); err != nil {
			return resp, err
		}
	}

	return resp, nil
}

// targetURL parses the URL, enforces https-only and appends the effective
// query parameters.
func (rb *RequestBuilder) targetURL(method string, s Settings) (*url.URL, error) {
	u, err := url.Parse(rb.url)
	if err != nil {
		return nil, &Error{Kind: KindConfig, Op: "parse url", Method: method, URL: rb.url, Err: err}
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
		if s.HTTPSOnly {
			return nil, &Error{Kind: KindConfig, Op: "check scheme", Method: method, URL: u.Redacted(), Err: ErrHTTPSOnly}
		}
	case "https":
	default:
		return nil, &Error{
			Kind:   KindConfig,
			Op:     "check scheme",
			Method: method,
			URL:    u.Redacted(),
			Err:    fmt.Errorf("unsupported scheme %q", u.Scheme),
		}
	}
	if u.Host == "" {
		return nil, &Error{Kind: KindConfig, Op: "parse url", Method: method, URL: u.Redacted(), Err: errors.New("missing host")}
	}

	params := s.Params
	if rb.hasParams {
		params = rb.params
	}
	u.RawQuery = params.appendQuery(u.RawQuery)
	return u, nil
}

// applyAuth sets Authorization from the effective credentials. Request
// values override client values kind by kind; basic wins over bearer.
func (rb *RequestBuilder) applyAuth(req *http.Request, s Settings) {
	username, password, basic := s.Username, s.Password, s.HasAuth
	if rb.auth != nil {
		username, password, basic = rb.auth.username, rb.auth.password, true
	}
	bearer := s.BearerToken
	if rb.hasBearer {
		bearer = rb.bearer
	}

	switch {
	case basic:
		creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		replaceHeader(req, "Authorization", "Basic "+creds)
	case bearer != "":
		replaceHeader(req, "Authorization", "Bearer "+bearer)
	}
}

// replaceHeader drops every case variant of name, sets value and keeps the
// wire order, if any, aware of it.
func replaceHeader(req *http.Request, name, value string) {
	for k := range req.Header {
		if strings.EqualFold(k, name) {
			delete(req.Header, k)
		}
	}
	req.Header[name] = []string{value}

	order, ok := req.Header[http.HeaderOrderKey]
	if !ok {
		return
	}
	lower := strings.ToLower(name)
	for _, n := range order {
		if n == lower {
			return
		}
	}
	req.Header[http.HeaderOrderKey] = appendToOrder(order, lower)
}

// cancelOnClose ends the request context once the caller is done with the
// body, so a timeout also bounds reading it.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// =============================================================================
// Send State
// =============================================================================

// sendState travels with a request's context so the redirect policy can
// keep cookies consistent across hops.
type sendState struct {
	jar *CookieJar

	// persist stores cookies set by intermediate responses.
	persist bool
	// refresh re-sends the jar's contents on every hop; false when the
	// caller supplied explicit cookies.
	refresh bool
	split   bool

	requestID string
	target    string
}

type sendStateKey struct{}

func withSendState(ctx context.Context, st *sendState) context.Context {
	return context.WithValue(ctx, sendStateKey{}, st)
}

func sendStateFrom(ctx context.Context) *sendState {
	st, _ := ctx.Value(sendStateKey{}).(*sendState)
	return st
}

// redirected runs before each redirect hop is sent.
func (st *sendState) redirected(req *http.Request) {
	if prev := req.Response; st.persist && prev != nil && prev.Request != nil {
		st.jar.persist(prev.Request.URL, prev.Cookies())
	}
	if !st.refresh {
		return
	}

	name := "Cookie"
	for k := range req.Header {
		if strings.EqualFold(k, "cookie") {
			name = k
			delete(req.Header, k)
		}
	}

	cookies := st.jar.GetAll()
	if len(cookies) == 0 {
		return
	}
	if st.split {
		values := make([]string, 0, len(cookies))
		for _, kv := range cookies {
			values = append(values, kv.Key+"="+kv.Value)
		}
		req.Header[name] = values
		return
	}
	req.Header[name] = []string{cookies.CookieHeader()}
}

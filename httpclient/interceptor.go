package httpclient

import (
	http "github.com/bogdanfinn/fhttp"
	"github.com/google/uuid"
)

// RequestInterceptor inspects or changes a request right before it enters
// the resilience stack. Returning an error aborts the send.
//
// Headers an interceptor adds with SetHeader keep the wire order intact;
// writing req.Header directly puts them after the ordered ones.
type RequestInterceptor func(req *http.Request) error

// ResponseInterceptor inspects the final response of every successful send.
// Returning an error fails the request; the response body is closed.
type ResponseInterceptor func(resp *http.Response) error

// SetHeader sets name on req, replacing every case variant, and appends it
// to the wire order when the request has one.
func SetHeader(req *http.Request, name, value string) {
	replaceHeader(req, name, value)
}

// interceptorDoer runs the client's interceptors around next.
type interceptorDoer struct {
	next     Doer
	request  []RequestInterceptor
	response []ResponseInterceptor
}

var _ Doer = (*interceptorDoer)(nil)

func newInterceptorDoer(next Doer, req []RequestInterceptor, resp []ResponseInterceptor) Doer {
	if len(req) == 0 && len(resp) == 0 {
		return next
	}
	return &interceptorDoer{next: next, request: req, response: resp}
}

func (d *interceptorDoer) Do(req *http.Request) (*http.Response, error) {
	for _, ic := range d.request {
		if err := ic(req); err != nil {
			return nil, err
		}
	}

	resp, err := d.next.Do(req)
	if err != nil {
		return nil, err
	}

	for _, ic := range d.response {
		if err := ic(resp); err != nil {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			return nil, err
		}
	}
	return resp, nil
}

// =============================================================================
// Common Interceptors
// =============================================================================

// BearerTokenInterceptor sets Authorization from tokenFunc on every send,
// for tokens that rotate while the client lives.
//
// Example:
//
//	client, err := httpclient.New(
//	    httpclient.WithRequestInterceptor(httpclient.BearerTokenInterceptor(func() (string, error) {
//	        return tokens.Current(ctx)
//	    })),
//	)
func BearerTokenInterceptor(tokenFunc func() (string, error)) RequestInterceptor {
	return func(req *http.Request) error {
		token, err := tokenFunc()
		if err != nil {
			return err
		}
		SetHeader(req, "Authorization", "Bearer "+token)
		return nil
	}
}

// APIKeyInterceptor sets a static API key header.
func APIKeyInterceptor(header, key string) RequestInterceptor {
	return func(req *http.Request) error {
		SetHeader(req, header, key)
		return nil
	}
}

// CorrelationIDInterceptor sets header to the request's id, the one logged
// on its "response" line. An id already on the request is kept.
func CorrelationIDInterceptor(header string) RequestInterceptor {
	return func(req *http.Request) error {
		if headerPresent(req.Header, header) {
			return nil
		}
		id := uuid.NewString()
		if st := sendStateFrom(req.Context()); st != nil {
			id = st.requestID
		}
		SetHeader(req, header, id)
		return nil
	}
}

// StatusInterceptor fails every response whose status is in codes with
// a *StatusError, e.g. to surface anti-bot challenges as errors.
func StatusInterceptor(codes ...int) ResponseInterceptor {
	blocked := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		blocked[c] = struct{}{}
	}
	return func(resp *http.Response) error {
		if _, ok := blocked[resp.StatusCode]; ok {
			return &StatusError{StatusCode: resp.StatusCode}
		}
		return nil
	}
}

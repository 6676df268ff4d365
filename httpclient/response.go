package httpclient

import (
	"io"

	http "github.com/bogdanfinn/fhttp"
	json "github.com/goccy/go-json"
)

// Response wraps the engine's response with convenience methods for body
// handling, decoding and request debugging.
//
// Response provides:
//   - Cached body reading (body is read once and reused)
//   - JSON decoding
//   - The URL after redirects
//   - Success/error status helpers
//   - cURL command generation for debugging
//
// Example usage:
//
//	resp, err := client.Get(ctx, "https://httpbin.org/cookies/set?a=1")
//	if err != nil {
//	    return err
//	}
//	text, _ := resp.Text()
//	fmt.Println(resp.StatusCode, resp.URL, text)
type Response struct {
	// Response embeds the engine response.
	// All fields and methods are accessible directly.
	//
	// Example: resp.StatusCode, resp.Header.Get("Content-Type")
	*http.Response

	// URL is the final URL after redirects.
	URL string

	// request is the request that produced this response.
	request *http.Request

	requestID string

	// body is the cached response body.
	body     []byte
	bodyRead bool

	result      any
	errorResult any

	// curlCommand is only populated if WithGenerateCurl(true) was set on the client.
	curlCommand string
}

// Body returns the response body as bytes.
//
// The body is read and cached on first access. Subsequent calls
// return the cached value.
func (r *Response) Body() ([]byte, error) {
	if r.bodyRead {
		return r.body, nil
	}

	defer r.Response.Body.Close()
	body, err := io.ReadAll(r.Response.Body)
	if err != nil {
		return nil, transportError(r.request.Method, r.URL, err)
	}

	r.body = body
	r.bodyRead = true
	return r.body, nil
}

// Text returns the response body as a string.
func (r *Response) Text() (string, error) {
	body, err := r.Body()
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	body, err := r.Body()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return encodingError("decode response", err)
	}
	return nil
}

// Cookies returns the cookies set by the final response, in header order.
func (r *Response) Cookies() Pairs {
	var out Pairs
	for _, c := range r.Response.Cookies() {
		out = append(out, Pair{Key: c.Name, Value: c.Value})
	}
	return out
}

// Result returns the decoded success response.
//
// This is only populated if Decode() was called on the RequestBuilder
// and the response was successful (2xx).
func (r *Response) Result() any {
	return r.result
}

// ErrorResult returns the decoded error response.
//
// This is only populated if DecodeError() was called on the RequestBuilder
// and the response was not successful (non-2xx).
func (r *Response) ErrorResult() any {
	return r.errorResult
}

// IsSuccess returns true if the response status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError returns true if the response status code is 4xx or 5xx.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// CurlCommand returns the cURL command equivalent for this request.
//
// This is only populated if WithGenerateCurl(true) was set on the client.
func (r *Response) CurlCommand() string {
	return r.curlCommand
}

// RequestID returns the identifier logged with this request.
func (r *Response) RequestID() string {
	return r.requestID
}

// decode reads the body and decodes it into the result or errorResult.
func (r *Response) decode() error {
	body, err := r.Body()
	if err != nil {
		return err
	}

	if len(body) == 0 {
		return nil
	}

	switch {
	case r.IsSuccess() && r.result != nil:
		return r.JSON(r.result)
	case !r.IsSuccess() && r.errorResult != nil:
		return r.JSON(r.errorResult)
	}
	return nil
}

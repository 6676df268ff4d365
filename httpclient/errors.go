package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorKind classifies every error returned by this package.
type ErrorKind int

const (
	// KindConfig covers invalid configuration: unknown impersonation target
	// or OS, malformed proxy URL, misused option combinations.
	KindConfig ErrorKind = iota + 1

	// KindIO covers local file access: unreadable file parts and CA bundles.
	KindIO

	// KindEncoding covers body serialization failures and invalid MIME types.
	KindEncoding

	// KindMethod covers malformed HTTP method tokens.
	KindMethod

	// KindTransport covers everything the engine reports while sending:
	// refused connections, TLS failures, timeouts, redirect limits.
	KindTransport
)

// String returns the lower-case kind name used in logs and span attributes.
func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	case KindEncoding:
		return "encoding"
	case KindMethod:
		return "method"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Kind sentinels. They match any *Error of the same kind:
//
//	if errors.Is(err, httpclient.ErrConfig) { ... }
var (
	ErrConfig    = errors.New("configuration error")
	ErrIO        = errors.New("i/o error")
	ErrEncoding  = errors.New("encoding error")
	ErrMethod    = errors.New("invalid method")
	ErrTransport = errors.New("transport error")
)

// Specific causes wrapped inside an *Error.
var (
	// ErrUnknownImpersonate is returned for an impersonation target the engine has no profile for.
	ErrUnknownImpersonate = errors.New("unknown impersonation target")

	// ErrUnknownOS is returned for an impersonation OS outside android, ios, linux, macos, windows.
	ErrUnknownOS = errors.New("unknown impersonation os")

	// ErrInvalidProxy is returned for a proxy URL that does not parse or has an unsupported scheme.
	ErrInvalidProxy = errors.New("invalid proxy url")

	// ErrRedirectLimit is returned when a response chain exceeds the configured redirect budget.
	ErrRedirectLimit = errors.New("too many redirects")

	// ErrHTTPSOnly is returned when an https-only client is asked to talk plain http.
	ErrHTTPSOnly = errors.New("https-only client refused a non-https url")

	// ErrInvalidMIME is returned for a file part whose explicit MIME type does not parse.
	ErrInvalidMIME = errors.New("invalid mime type")
)

// StatusError is returned by StatusInterceptor for a rejected response status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rejected response status %d", e.StatusCode)
}

// Error is the single error type returned by Client operations.
type Error struct {
	Kind   ErrorKind // Error classification
	Op     string    // Operation that failed (e.g. "rebuild", "encode body", "send")
	Method string    // HTTP method, if applicable
	URL    string    // Request URL, if applicable
	Err    error     // Underlying error
}

func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.URL, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfig:
		return e.Kind == KindConfig
	case ErrIO:
		return e.Kind == KindIO
	case ErrEncoding:
		return e.Kind == KindEncoding
	case ErrMethod:
		return e.Kind == KindMethod
	case ErrTransport:
		return e.Kind == KindTransport
	}
	return false
}

func configError(op string, err error) error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

func ioError(op string, err error) error {
	return &Error{Kind: KindIO, Op: op, Err: err}
}

func encodingError(op string, err error) error {
	return &Error{Kind: KindEncoding, Op: op, Err: err}
}

func methodError(method string, err error) error {
	return &Error{Kind: KindMethod, Op: "parse method", Method: method, Err: err}
}

// transportError wraps an engine failure. Errors that already carry a kind
// (an unreadable file part surfacing through the body stream, for instance)
// are returned unchanged.
func transportError(method, url string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindTransport, Op: "send", Method: method, URL: url, Err: err}
}

// classifyError returns a low-cardinality error type for span and metric attributes.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) && e.Kind != KindTransport {
		return e.Kind.String()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrRedirectLimit):
		return "redirect_limit"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection_refused"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection_reset"
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "rejected_status"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network_error"
	}

	return "transport"
}

// isRetryableError reports whether a failed send may be attempted again.
// Only transport failures qualify; caller cancellation and local
// configuration or encoding problems never do.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRedirectLimit) || errors.Is(err, ErrHTTPSOnly) || errors.Is(err, ErrRateLimited) {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindTransport {
		return false
	}
	return true
}

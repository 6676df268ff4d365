package httpclient

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/rs/zerolog"
)

// defaultLogger is the package-level zerolog logger used when no
// WithLogger option is given.
var defaultLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// generateCurlCommand creates a cURL command equivalent for the given request.
//
// Headers are listed in wire order, then any header outside the order
// sorted by name. Multipart bodies are rendered as -F arguments.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' \
//	  -H 'content-type: application/json' \
//	  -H 'user-agent: Mozilla/5.0 ...' \
//	  -d '{"name":"John"}'
func generateCurlCommand(req *http.Request, body *encodedBody) string {
	var parts []string

	parts = append(parts, "curl")

	// Method
	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}

	// URL
	parts = append(parts, shellQuote(req.URL.String()))

	for _, h := range curlHeaders(req) {
		parts = append(parts, "-H", shellQuote(h))
	}

	// Body
	switch {
	case body == nil:
	case body.form != nil:
		for _, kv := range body.form.fields {
			parts = append(parts, "-F", shellQuote(kv.Key+"="+kv.Value))
		}
		for _, p := range body.form.parts {
			arg := fmt.Sprintf("%s=@%s", p.field, p.filename)
			if p.mimeType != "" {
				arg += ";type=" + p.mimeType
			}
			parts = append(parts, "-F", shellQuote(arg))
		}
	case len(body.raw) > 0:
		parts = append(parts, "--data-raw", shellQuote(string(body.raw)))
	}

	return strings.Join(parts, " ")
}

// curlHeaders renders the request headers as "Name: value" lines. Values
// of a name appear in their stored order.
func curlHeaders(req *http.Request) []string {
	byLower := make(map[string][]string, len(req.Header))
	var names []string
	for k := range req.Header {
		if k == http.HeaderOrderKey || k == http.PHeaderOrderKey {
			continue
		}
		lower := strings.ToLower(k)
		if _, ok := byLower[lower]; !ok {
			names = append(names, lower)
		}
		for _, v := range req.Header[k] {
			byLower[lower] = append(byLower[lower], k+": "+v)
		}
	}
	sort.Strings(names)

	var out []string
	done := make(map[string]bool, len(names))
	for _, name := range req.Header[http.HeaderOrderKey] {
		if lines, ok := byLower[name]; ok && !done[name] {
			out = append(out, lines...)
			done[name] = true
		}
	}
	for _, name := range names {
		if !done[name] {
			out = append(out, byLower[name]...)
		}
	}
	return out
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// logRequest logs the request details using zerolog.
func logRequest(logger zerolog.Logger, req *http.Request) {
	logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Strs("header_order", req.Header[http.HeaderOrderKey]).
		Msg("HTTP request")
}

// logResponse logs the response details using zerolog.
func logResponse(logger zerolog.Logger, resp *http.Response, duration time.Duration) {
	logger.Debug().
		Int("status", resp.StatusCode).
		Str("status_text", resp.Status).
		Str("proto", resp.Proto).
		Dur("duration_ms", duration).
		Int64("content_length", resp.ContentLength).
		Msg("HTTP response")
}

// engineLogger forwards the engine's printf-style diagnostics to zerolog.
type engineLogger struct {
	logger zerolog.Logger
}

var _ tls_client.Logger = engineLogger{}

func newEngineLogger(logger zerolog.Logger) tls_client.Logger {
	return engineLogger{logger: logger.With().Str("component", "engine").Logger()}
}

func (l engineLogger) Debug(format string, args ...any) { l.logger.Debug().Msgf(format, args...) }
func (l engineLogger) Info(format string, args ...any)  { l.logger.Info().Msgf(format, args...) }
func (l engineLogger) Warn(format string, args ...any)  { l.logger.Warn().Msgf(format, args...) }
func (l engineLogger) Error(format string, args ...any) { l.logger.Error().Msgf(format, args...) }

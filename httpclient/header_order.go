package httpclient

import (
	"sort"
	"strconv"
	"strings"

	http "github.com/bogdanfinn/fhttp"
)

// contentLengthPlaceholder reserves the Content-Length slot for multipart
// bodies whose size is only known once the engine serializes them.
const contentLengthPlaceholder = "0"

// bodyMeta is what header ordering needs to know about an encoded body.
type bodyMeta struct {
	present     bool
	length      int64 // valid when present && !streamed
	streamed    bool
	contentType string // inferred by the encoder, "" when none
}

// headerPlan is the outcome of header ordering: the final header sequence
// and the wire-order descriptor handed to the engine.
type headerPlan struct {
	headers Headers
	order   []string // lower-case names, first occurrence only; nil for unordered plans
}

// planOrderedHeaders lays out caller-ordered headers the way browsers emit them:
//
//	Host, Content-Length, Content-Type, <caller order>, cookie(s), priority
//
// In merged style an explicit cookie header keeps its position and carries
// the effective cookies; otherwise the cookie header goes after the copied
// headers. In split style every cookie becomes its own header after the copy.
func planOrderedHeaders(ordered Headers, body bodyMeta, cookies Pairs, split bool) headerPlan {
	out := make(Headers, 0, len(ordered)+len(cookies)+3)

	if host, ok := ordered.Get("Host"); ok {
		out.Add("Host", host)
	}

	switch {
	case body.streamed:
		out.Add("Content-Length", contentLengthPlaceholder)
	case body.present:
		out.Add("Content-Length", strconv.FormatInt(body.length, 10))
	}

	if body.contentType != "" && !ordered.Has("Content-Type") {
		out.Add("Content-Type", body.contentType)
	}

	var (
		priority     *Header
		headerCookie *Header
		cookiePlaced bool
	)
	for i := range ordered {
		f := ordered[i]
		switch strings.ToLower(f.Name) {
		case "host", "content-length":
			continue
		case "priority":
			priority = &f
			continue
		case "cookie":
			if headerCookie == nil {
				headerCookie = &f
			}
			if !split && !cookiePlaced {
				if len(cookies) > 0 {
					out.Add("cookie", cookies.CookieHeader())
				} else {
					out.Add(f.Name, f.Value)
				}
				cookiePlaced = true
			}
			continue
		}
		if out.Has(f.Name) {
			continue
		}
		out.Add(f.Name, f.Value)
	}

	if split {
		switch {
		case len(cookies) > 0:
			for _, kv := range cookies {
				out.Add("cookie", kv.Key+"="+kv.Value)
			}
		case headerCookie != nil:
			for _, part := range strings.Split(headerCookie.Value, ";") {
				if part = strings.TrimSpace(part); part != "" {
					out.Add("cookie", part)
				}
			}
		}
	} else if !cookiePlaced && len(cookies) > 0 {
		out.Add("cookie", cookies.CookieHeader())
	}

	if priority != nil {
		out.Add(priority.Name, priority.Value)
	}

	return headerPlan{headers: out, order: wireOrder(out)}
}

// planUnorderedHeaders applies plain headers without any ordering guarantee,
// adds the inferred Content-Type when the caller gave none and appends the
// effective cookies: one Cookie header in merged style, one cookie header
// per pair in split style.
func planUnorderedHeaders(headers map[string]string, body bodyMeta, cookies Pairs, split bool) headerPlan {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Headers, 0, len(headers)+len(cookies))
	for _, name := range names {
		out.Set(name, headers[name])
	}

	if body.contentType != "" && !out.Has("Content-Type") {
		out.Add("Content-Type", body.contentType)
	}

	if len(cookies) > 0 {
		if split {
			for _, kv := range cookies {
				out.Add("cookie", kv.Key+"="+kv.Value)
			}
		} else {
			out.Del("Cookie")
			out.Add("Cookie", cookies.CookieHeader())
		}
	}

	return headerPlan{headers: out}
}

// wireOrder derives the engine's header order descriptor from a header sequence.
func wireOrder(h Headers) []string {
	order := make([]string, 0, len(h))
	seen := make(map[string]struct{}, len(h))
	for _, f := range h {
		lower := strings.ToLower(f.Name)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		order = append(order, lower)
	}
	return order
}

// applyHeaderPlan writes the plan onto an engine request. Header names are
// stored verbatim so repeated cookie headers stay separate entries; Host and
// Content-Length are owned by the request itself and only take part in the
// wire order.
func applyHeaderPlan(req *http.Request, plan headerPlan) {
	for _, f := range plan.headers {
		switch strings.ToLower(f.Name) {
		case "content-length":
			continue
		case "host":
			req.Host = f.Value
		}
		req.Header[f.Name] = append(req.Header[f.Name], f.Value)
	}
	if len(plan.order) > 0 {
		req.Header[http.HeaderOrderKey] = plan.order
	}
}

// applyDefaultHeaders fills in client-level defaults the request did not set
// itself. With a wire order, missing defaults join it ahead of the trailing
// cookie and priority entries, and a default priority goes last. Without
// one, the defaults' own order leads and the request's remaining headers
// follow.
func applyDefaultHeaders(req *http.Request, defaults Headers) {
	if len(defaults) == 0 {
		return
	}

	if order, ok := req.Header[http.HeaderOrderKey]; ok {
		var missing []string
		priority := false
		for _, f := range defaults {
			if headerPresent(req.Header, f.Name) {
				continue
			}
			req.Header[f.Name] = []string{f.Value}
			if lower := strings.ToLower(f.Name); lower == "priority" {
				priority = true
			} else {
				missing = append(missing, lower)
			}
		}
		order = appendToOrder(order, missing...)
		if priority {
			order = append(order, "priority")
		}
		req.Header[http.HeaderOrderKey] = dedupe(order)
		return
	}

	rest := make([]string, 0, len(req.Header))
	for k := range req.Header {
		rest = append(rest, strings.ToLower(k))
	}
	sort.Strings(rest)

	order := make([]string, 0, len(defaults)+len(rest))
	for _, f := range defaults {
		if !headerPresent(req.Header, f.Name) {
			req.Header[f.Name] = []string{f.Value}
		}
		order = append(order, strings.ToLower(f.Name))
	}
	req.Header[http.HeaderOrderKey] = dedupe(append(order, rest...))
}

// appendToOrder adds names to a wire order ahead of its trailing cookie and
// priority entries, which close the header block.
func appendToOrder(order []string, names ...string) []string {
	tail := len(order)
	for tail > 0 && (order[tail-1] == "cookie" || order[tail-1] == "priority") {
		tail--
	}
	out := make([]string, 0, len(order)+len(names))
	out = append(out, order[:tail]...)
	out = append(out, names...)
	return append(out, order[tail:]...)
}

func dedupe(names []string) []string {
	out := names[:0]
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// headerPresent is a case-insensitive lookup over raw header keys.
func headerPresent(h http.Header, name string) bool {
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

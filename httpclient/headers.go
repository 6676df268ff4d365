package httpclient

import (
	"net/url"
	"strings"
)

// Header is a single header field with its name case preserved.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list. Names keep the caller's casing but are
// compared case-insensitively, so Set("host", ...) replaces an existing
// "Host" entry in place.
//
// The zero value is an empty list ready to use.
//
// Example:
//
//	h := httpclient.NewHeaders(
//	    "Host", "example.com",
//	    "User-Agent", "Mozilla/5.0",
//	    "Accept", "*/*",
//	)
type Headers []Header

// NewHeaders builds Headers from alternating name, value arguments.
// A trailing name without a value is ignored.
func NewHeaders(kv ...string) Headers {
	h := make(Headers, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

// Index returns the position of name, or -1.
func (h Headers) Index(name string) int {
	for i, f := range h {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// Get returns the value of the first header matching name.
func (h Headers) Get(name string) (string, bool) {
	if i := h.Index(name); i >= 0 {
		return h[i].Value, true
	}
	return "", false
}

// Has reports whether a header matching name is present.
func (h Headers) Has(name string) bool {
	return h.Index(name) >= 0
}

// Set replaces the value of an existing header, keeping its position and
// original casing, or appends a new one.
func (h *Headers) Set(name, value string) {
	if i := h.Index(name); i >= 0 {
		(*h)[i].Value = value
		return
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// Add appends a header even when one with the same name exists.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// Del removes every header matching name.
func (h *Headers) Del(name string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	*h = out
}

// Clone returns an independent copy. Clone of nil is nil.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	return append(make(Headers, 0, len(h)), h...)
}

// Merge returns h with update applied: existing names keep their position
// and take the new value, unseen names are appended in update's order.
// h is not modified.
func (h Headers) Merge(update Headers) Headers {
	out := h.Clone()
	if out == nil {
		out = make(Headers, 0, len(update))
	}
	for _, f := range update {
		out.Set(f.Name, f.Value)
	}
	return out
}

// Names returns header names in order.
func (h Headers) Names() []string {
	names := make([]string, len(h))
	for i, f := range h {
		names[i] = f.Name
	}
	return names
}

// Map flattens h into an unordered map. Later duplicates win.
func (h Headers) Map() map[string]string {
	m := make(map[string]string, len(h))
	for _, f := range h {
		m[f.Name] = f.Value
	}
	return m
}

// Pair is a key/value entry of an ordered, case-sensitive collection.
type Pair struct {
	Key   string
	Value string
}

// Pairs is an ordered key/value list used for query parameters and cookies.
// Keys are compared exactly; setting an existing key keeps its position.
type Pairs []Pair

// NewPairs builds Pairs from alternating key, value arguments.
// A trailing key without a value is ignored.
func NewPairs(kv ...string) Pairs {
	p := make(Pairs, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i], kv[i+1])
	}
	return p
}

// Get returns the value stored under key.
func (p Pairs) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Set replaces the value under key in place or appends a new entry.
func (p *Pairs) Set(key, value string) {
	for i := range *p {
		if (*p)[i].Key == key {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Pair{Key: key, Value: value})
}

// Keys returns the keys in order.
func (p Pairs) Keys() []string {
	keys := make([]string, len(p))
	for i, kv := range p {
		keys[i] = kv.Key
	}
	return keys
}

// Clone returns an independent copy. Clone of nil is nil.
func (p Pairs) Clone() Pairs {
	if p == nil {
		return nil
	}
	return append(make(Pairs, 0, len(p)), p...)
}

// CookieHeader joins the pairs as a single cookie header value,
// "k1=v1; k2=v2", in order.
func (p Pairs) CookieHeader() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(kv.Key)
		b.WriteByte('=')
		b.WriteString(kv.Value)
	}
	return b.String()
}

// appendQuery appends the pairs to an existing raw query string, keeping
// both the existing parameters and the pair order.
func (p Pairs) appendQuery(rawQuery string) string {
	if len(p) == 0 {
		return rawQuery
	}
	var b strings.Builder
	b.WriteString(rawQuery)
	for _, kv := range p {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

package httpclient

import (
	"bytes"
	"io"
	"net/url"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// bodyInput collects the body-shaped inputs of one request. Several may be
// set; encodeBody decides which one is sent.
type bodyInput struct {
	content    []byte
	hasContent bool
	data       any
	hasData    bool
	json       any
	hasJSON    bool
	files      []FileEntry
}

func (in bodyInput) empty() bool {
	return !in.hasContent && !in.hasData && !in.hasJSON && len(in.files) == 0
}

// encodedBody is the single body a request carries: nothing, a fully
// serialized byte slice, or a streamed multipart form.
type encodedBody struct {
	raw         []byte
	form        *multipartBody
	contentType string
}

// meta summarizes the body for header ordering.
func (b *encodedBody) meta() bodyMeta {
	switch {
	case b == nil:
		return bodyMeta{}
	case b.form != nil:
		return bodyMeta{present: true, streamed: true, contentType: b.contentType}
	case b.raw != nil:
		return bodyMeta{present: true, length: int64(len(b.raw)), contentType: b.contentType}
	}
	return bodyMeta{}
}

// reader returns the request body stream, or nil for no body.
func (b *encodedBody) reader() io.Reader {
	switch {
	case b == nil:
		return nil
	case b.form != nil:
		return b.form
	case b.raw != nil:
		return bytes.NewReader(b.raw)
	}
	return nil
}

// close releases resources held by a body that was never sent.
func (b *encodedBody) close() {
	if b != nil && b.form != nil {
		_ = b.form.Close()
	}
}

// methodCarriesBody reports whether body inputs are honored for method.
func methodCarriesBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// encodeBody turns the request's body inputs into one body, checking them
// in this order:
//
//   - files: multipart form, with data entries as text fields
//   - content: sent verbatim, no content type
//   - data: a JSON-parsable string is re-sent as JSON, any other string
//     verbatim; an object with a nested object or array value becomes JSON,
//     a flat one becomes application/x-www-form-urlencoded
//   - json: serialized as JSON
//
// It returns nil when no input is set.
func encodeBody(in bodyInput) (*encodedBody, error) {
	switch {
	case len(in.files) > 0:
		var fields Pairs
		if in.hasData {
			var err error
			if fields, err = formFields(in.data); err != nil {
				return nil, encodingError("encode multipart fields", err)
			}
		}
		form, err := newMultipartBody(fields, in.files)
		if err != nil {
			return nil, err
		}
		return &encodedBody{form: form, contentType: form.ContentType()}, nil

	case in.hasContent:
		raw := in.content
		if raw == nil {
			raw = []byte{}
		}
		return &encodedBody{raw: raw}, nil

	case in.hasData:
		raw, contentType, err := encodeData(in.data)
		if err != nil {
			return nil, encodingError("encode data", err)
		}
		return &encodedBody{raw: raw, contentType: contentType}, nil

	case in.hasJSON:
		raw, err := json.Marshal(in.json)
		if err != nil {
			return nil, encodingError("encode json", err)
		}
		return &encodedBody{raw: raw, contentType: contentTypeJSON}, nil
	}

	return nil, nil
}

// encodeData applies the string / nested / flat rules to a data value.
func encodeData(data any) ([]byte, string, error) {
	switch v := data.(type) {
	case string:
		return encodeDataString(v)
	case []byte:
		return encodeDataString(string(v))
	case Pairs:
		return []byte(encodePairs(v)), contentTypeForm, nil
	case url.Values:
		return []byte(v.Encode()), contentTypeForm, nil
	case map[string]string:
		return []byte(encodePairs(sortedPairs(v))), contentTypeForm, nil
	}

	obj, isObject, err := toObject(data)
	if err != nil {
		return nil, "", err
	}
	if !isObject || isNested(obj) {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, "", err
		}
		return raw, contentTypeJSON, nil
	}

	pairs, err := flattenObject(obj)
	if err != nil {
		return nil, "", err
	}
	return []byte(encodePairs(pairs)), contentTypeForm, nil
}

// encodeDataString sends a JSON document as compact JSON and anything else as-is.
func encodeDataString(s string) ([]byte, string, error) {
	if json.Valid([]byte(s)) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(s)); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), contentTypeJSON, nil
	}
	return []byte(s), "", nil
}

// toObject normalizes an arbitrary value into a JSON object when it is one.
// The value takes a JSON round trip so typed maps, slices and structs are
// judged the same way as decoded JSON.
func toObject(data any) (map[string]any, bool, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, false, err
	}
	m, ok := decoded.(map[string]any)
	return m, ok, nil
}

// isNested reports whether any value of obj is itself an object or array.
func isNested(obj map[string]any) bool {
	for _, v := range obj {
		switch v.(type) {
		case map[string]any, []any:
			return true
		}
	}
	return false
}

// flattenObject renders a flat object as key-sorted pairs, strings verbatim
// and every other scalar as its JSON text.
func flattenObject(obj map[string]any) (Pairs, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make(Pairs, 0, len(keys))
	for _, k := range keys {
		s, err := scalarText(obj[k])
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Key: k, Value: s})
	}
	return pairs, nil
}

// scalarText formats a value for a form field.
func scalarText(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// formFields converts a data value into multipart text fields. Strings are
// used verbatim, other values as JSON text. Non-object data contributes no
// fields.
func formFields(data any) (Pairs, error) {
	switch v := data.(type) {
	case Pairs:
		return v.Clone(), nil
	case url.Values:
		pairs := make(Pairs, 0, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, vv := range v[k] {
				pairs = append(pairs, Pair{Key: k, Value: vv})
			}
		}
		return pairs, nil
	case map[string]string:
		return sortedPairs(v), nil
	case string, []byte:
		return nil, nil
	}

	obj, isObject, err := toObject(data)
	if err != nil || !isObject {
		return nil, err
	}
	return flattenObject(obj)
}

func sortedPairs(m map[string]string) Pairs {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make(Pairs, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, Pair{Key: k, Value: m[k]})
	}
	return pairs
}

// encodePairs form-encodes pairs in order.
func encodePairs(p Pairs) string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// fields is a lenient view of one JSON object. Every accessor tolerates a
// missing key, a null, or a value of the wrong JSON type.
type fields map[string]json.RawMessage

func decodeFields(raw []byte) (fields, bool) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return nil, false
	}
	return f, true
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// obj returns the nested object at key, or nil.
func (f fields) obj(key string) fields {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return nil
	}
	nested, ok := decodeFields(raw)
	if !ok {
		return nil
	}
	return nested
}

// str returns strings as-is and numbers in their shortest decimal form.
func (f fields) str(key string) string {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// num accepts JSON numbers and numeric strings such as "120 000" or "85,5".
func (f fields) num(key string) (float64, bool) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseNumber(s)
	}
	return 0, false
}

func (f fields) numPtr(key string) *float64 {
	n, ok := f.num(key)
	if !ok {
		return nil
	}
	return &n
}

func (f fields) intPtr(key string) *int {
	n, ok := f.num(key)
	if !ok {
		return nil
	}
	i := int(n)
	return &i
}

// boolean accepts true/false, 0/1 and their string forms. Anything else is false.
func (f fields) boolean(key string) bool {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	if n, ok := f.num(key); ok {
		return n != 0
	}
	b, _ = strconv.ParseBool(f.str(key))
	return b
}

// list returns the elements of the array at key as objects, skipping entries
// that are not objects.
func (f fields) list(key string) []fields {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]fields, 0, len(items))
	for _, item := range items {
		if nested, ok := decodeFields(item); ok {
			out = append(out, nested)
		}
	}
	return out
}

// parseNumber strips grouping spaces and accepts a decimal comma.
func parseNumber(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
		case r == ',':
			b.WriteRune('.')
		default:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

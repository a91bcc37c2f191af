package vnpay

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Params is the flat field set exchanged with the gateway. Values are always
// scalars; the gateway rejects anything nested, so the typed setters are the
// only way values get in.
type Params map[string]string

// Set stores a string field. Empty values are dropped so optional fields never
// appear as `name=` pairs in the signed payload.
func (p Params) Set(key, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	p[key] = value
}

// SetInt stores an integer field.
func (p Params) SetInt(key string, value int64) {
	p[key] = strconv.FormatInt(value, 10)
}

// SetAny stores a dynamically typed field. Only scalar values are permitted;
// anything else is a caller bug and is reported immediately.
func (p Params) SetAny(key string, value any) error {
	switch v := value.(type) {
	case string:
		p.Set(key, v)
	case int:
		p.SetInt(key, int64(v))
	case int32:
		p.SetInt(key, int64(v))
	case int64:
		p.SetInt(key, v)
	default:
		return fmt.Errorf("vnpay: field %s has non-scalar value of type %T", key, value)
	}
	return nil
}

// SortedKeys returns the field names in byte-wise ascending order. Ordering
// depends only on key content, never on insertion order.
func (p Params) SortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SignData serialises the params as `name=value&...` in canonical order using
// raw, unescaped values. This is the exact byte string the gateway signs.
func (p Params) SignData() string {
	var b strings.Builder
	for i, key := range p.SortedKeys() {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(p[key])
	}
	return b.String()
}

// Encode serialises the params for URL transport: canonical order, values
// percent-escaped. The signature must be computed over SignData, never over
// this form.
func (p Params) Encode() string {
	var b strings.Builder
	for i, key := range p.SortedKeys() {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[key]))
	}
	return b.String()
}

// Clone returns an independent copy of the params.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

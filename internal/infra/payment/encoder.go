package payment

import (
	"fmt"
	"net/url"
	"strings"
)

// Encode builds the canonical "k1=v1&k2=v2" string over f. Fields listed in
// order come first in that order, unknown ones follow lexicographically.
// signature and passphrase are never included.
func Encode(f Fields, order []Field) string {
	var b strings.Builder
	for _, name := range f.Ordered(order) {
		if name == FieldSignature || name == FieldPassphrase {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(encodeComponent(string(name)))
		b.WriteByte('=')
		b.WriteString(encodeComponent(f.Get(name)))
	}
	return b.String()
}

// encodeComponent is form encoding as the processor computes it: space is
// '+', everything outside [A-Za-z0-9-_.] is %XX with uppercase hex.
func encodeComponent(s string) string {
	// QueryEscape leaves '~' alone; the processor does not.
	return strings.ReplaceAll(url.QueryEscape(s), "~", "%7E")
}

// Decode parses a canonical string back into a field set.
func Decode(canonical string) (Fields, error) {
	var f Fields
	if canonical == "" {
		return f, nil
	}
	for _, pair := range strings.Split(canonical, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return Fields{}, fmt.Errorf("decode canonical string: malformed pair %q", pair)
		}
		name, err := url.QueryUnescape(k)
		if err != nil {
			return Fields{}, fmt.Errorf("decode canonical string: %w", err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return Fields{}, fmt.Errorf("decode canonical string: %w", err)
		}
		f.Set(Field(name), value)
	}
	return f, nil
}

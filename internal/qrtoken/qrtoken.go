// Package qrtoken performs the structural check applied to student QR
// credentials before they are trusted as attendance proof.
//
// A token is accepted when its payload segment (the second dot-separated
// segment if there is one, otherwise the whole string) is base64 that decodes
// to a JSON object. Signatures and expiry are not checked.
package qrtoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Valid reports whether token is a well-formed credential. It never panics.
func Valid(token string) bool {
	_, ok := Claims(token)
	return ok
}

// Claims decodes the payload object of token.
func Claims(token string) (map[string]any, bool) {
	if token == "" {
		return nil, false
	}
	raw, ok := decode(payloadSegment(token))
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

func payloadSegment(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) > 1 && parts[1] != "" {
		return parts[1]
	}
	return token
}

// decode is a forgiving standard-alphabet base64 decode: ASCII whitespace is
// ignored and padding is optional.
func decode(s string) ([]byte, bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, s)
	if len(s)%4 == 0 {
		s = strings.TrimSuffix(s, "=")
		s = strings.TrimSuffix(s, "=")
	}
	if len(s)%4 == 1 {
		return nil, false
	}
	out, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return out, true
}

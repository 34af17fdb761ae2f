package qrtoken

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestValid(t *testing.T) {
	payload := b64(`{"student_id":5,"name":"Amina"}`)

	cases := []struct {
		name  string
		token string
		want  bool
	}{
		{"empty", "", false},
		{"not base64", "%%%not-base64%%%", false},
		{"base64 of plain text", b64("hello world"), false},
		{"base64 of json array", b64(`[1,2,3]`), false},
		{"base64 of json number", b64(`42`), false},
		{"bare object", payload, true},
		{"jwt shaped", b64(`{"alg":"HS256"}`) + "." + payload + ".sig", true},
		{"dot prefix only", "prefix." + payload, true},
		{"unpadded", base64.RawStdEncoding.EncodeToString([]byte(`{"a":1}`)), true},
		{"wrapped in whitespace", " " + payload + "\n", true},
		{"empty second segment falls back to whole token", payload + ".", false},
		{"bad second segment", "x.!!!.y", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Valid(tc.token))
		})
	}
}

func TestClaims(t *testing.T) {
	claims, ok := Claims("h." + b64(`{"sid":"S-17"}`) + ".s")
	require.True(t, ok)
	assert.Equal(t, "S-17", claims["sid"])

	_, ok = Claims(b64(`null`))
	assert.False(t, ok)
}

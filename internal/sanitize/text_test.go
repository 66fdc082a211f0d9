package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"id 1234567890", "id  "},
		{"short 12345", "short 12345"},
		{"on 2024-03-10 at 10:00", "on 2024-03-10 at 10:00"},
		{"x https://a.b/c?d=1 y", "x   y"},
		{"ping a.b@c.io now", "ping   now"},
		{"ref 20240105https://x.example/p", "ref   "},
		{"see9www.example.com", "see9 "},
	}
	for _, c := range cases {
		got := Redact(c.in)
		assert.Equal(t, c.want, got, c.in)
		assert.Equal(t, got, Redact(got), c.in)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b\nc", CollapseWhitespace("  a \t b \r\n\r\n\n  c  "))
	assert.Equal(t, "", CollapseWhitespace(" \n "))
}

func TestInline(t *testing.T) {
	assert.Equal(t, "Bob Jones", Inline("Bob Jones bob@corp.com"))
	assert.Equal(t, "Meet", NormalizeUnicode("\uff2d\uff45\uff45\uff54"))
}

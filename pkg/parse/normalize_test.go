package parse

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"LowercaseSchemeAndHost", "HTTPS://Example.COM/Docs", "https://example.com/Docs"},
		{"DefaultHTTPPort", "http://example.com:80/a", "http://example.com/a"},
		{"DefaultHTTPSPort", "https://example.com:443/a", "https://example.com/a"},
		{"NonDefaultPortKept", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"CrossDefaultPortKept", "https://example.com:80/a", "https://example.com:80/a"},
		{"EmptyPath", "https://example.com", "https://example.com/"},
		{"RootKept", "https://example.com/", "https://example.com/"},
		{"TrailingSlashTrimmed", "https://example.com/docs/", "https://example.com/docs"},
		{"FragmentDropped", "https://example.com/a#section", "https://example.com/a"},
		{"QueryKept", "https://example.com/a?page=2", "https://example.com/a?page=2"},
		{"EscapedPathKept", "https://example.com/a%2Fb", "https://example.com/a%2Fb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, DedupKey(u))
		})
	}
}

func TestDedupKey_NilInput(t *testing.T) {
	assert.Empty(t, DedupKey(nil))
}

func TestDedupKey_DoesNotModifyInput(t *testing.T) {
	u, err := url.Parse("HTTP://Example.com:80/Path/?q=1#frag")
	require.NoError(t, err)
	before := u.String()

	DedupKey(u)
	assert.Equal(t, before, u.String())
}

func TestDedupKey_EquivalentLinksCollide(t *testing.T) {
	a, _ := url.Parse("http://EXAMPLE.com:80/docs/#top")
	b, _ := url.Parse("http://example.com/docs")
	assert.Equal(t, DedupKey(a), DedupKey(b))

	c, _ := url.Parse("http://example.com/docs?v=2")
	assert.NotEqual(t, DedupKey(b), DedupKey(c))
}

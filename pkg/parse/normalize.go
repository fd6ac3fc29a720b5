package parse

import (
	"net/url"
	"strings"
)

// DedupKey returns the identity used to collapse equivalent links: scheme and
// host lowercased, default port dropped, empty path as "/", a trailing slash
// trimmed and the fragment removed. The query is kept since it usually names
// a different resource. Does not modify u.
func DedupKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	key := url.URL{
		Scheme:   strings.ToLower(u.Scheme),
		Host:     DomainOf(u),
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	}
	if key.Path == "" {
		key.Path = "/"
	} else if len(key.Path) > 1 && strings.HasSuffix(key.Path, "/") {
		key.Path = strings.TrimSuffix(key.Path, "/")
		key.RawPath = strings.TrimSuffix(key.RawPath, "/")
	}
	return key.String()
}

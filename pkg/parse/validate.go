package parse

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// ValidateCrawlURL parses rawURL and checks that it is fetchable: absolute,
// http or https, a non-empty host and, when present, a numeric port in range.
// Errors wrap utils.ErrMalformedURL.
func ValidateCrawlURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty URL", utils.ErrMalformedURL)
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrMalformedURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return nil, fmt.Errorf("%w: '%s' has no scheme", utils.ErrMalformedURL, rawURL)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme '%s'", utils.ErrMalformedURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: '%s' has no host", utils.ErrMalformedURL, rawURL)
	}
	if port := u.Port(); port != "" {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("%w: invalid port '%s'", utils.ErrMalformedURL, port)
		}
	}
	return u, nil
}

// DomainOf returns the grouping key for u: the lowercased host, keeping the
// port unless it is the scheme's default
func DomainOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	port := u.Port()
	scheme := strings.ToLower(u.Scheme)
	if port == "" || (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		// IPv6 literals keep their brackets so the key stays a valid URL host
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}

// RequestPath returns the path and query used for exclusion-rule matching
func RequestPath(u *url.URL) string {
	p := u.RequestURI()
	if p == "" {
		return "/"
	}
	return p
}

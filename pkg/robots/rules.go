package robots

import (
	"time"

	"github.com/temoto/robotstxt"
)

// ExclusionRules is one domain's parsed robots.txt, evaluated for a single
// user agent. It is immutable once built and safe for concurrent use.
// A nil *ExclusionRules permits everything.
type ExclusionRules struct {
	data  *robotstxt.RobotsData
	agent string
}

var (
	allowAllData, _    = robotstxt.FromStatusAndBytes(404, nil)
	disallowAllData, _ = robotstxt.FromStatusAndBytes(500, nil)
)

// NewExclusionRules wraps parsed robots data for agent
func NewExclusionRules(data *robotstxt.RobotsData, agent string) *ExclusionRules {
	return &ExclusionRules{data: data, agent: agent}
}

// AllowAll returns rules with no restrictions, as for a missing robots.txt
func AllowAll() *ExclusionRules {
	return &ExclusionRules{data: allowAllData}
}

// DisallowAll returns rules that block every path
func DisallowAll() *ExclusionRules {
	return &ExclusionRules{data: disallowAllData}
}

// Allowed reports whether path (path plus optional query) may be fetched.
// The most specific matching rule wins; no match means allowed.
func (r *ExclusionRules) Allowed(path string) bool {
	if r == nil || r.data == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	return r.data.TestAgent(path, r.agent)
}

// CrawlDelay returns the Crawl-delay of the group matching the agent, or 0
func (r *ExclusionRules) CrawlDelay() time.Duration {
	if r == nil || r.data == nil {
		return 0
	}
	if g := r.data.FindGroup(r.agent); g != nil {
		return g.CrawlDelay
	}
	return 0
}

// Sitemaps returns the Sitemap directives in file order
func (r *ExclusionRules) Sitemaps() []string {
	if r == nil || r.data == nil {
		return nil
	}
	return r.data.Sitemaps
}

// Agent returns the user agent the rules are evaluated for
func (r *ExclusionRules) Agent() string {
	if r == nil {
		return ""
	}
	return r.agent
}

// Resolution is the outcome of resolving a domain's rules. Either Rules is
// set, or FailOpen is true and Err says why the rules could not be determined.
type Resolution struct {
	Domain   string
	Rules    *ExclusionRules
	FailOpen bool
	Err      error
	Duration time.Duration // Time spent fetching and parsing
}

// Resolved builds a successful Resolution
func Resolved(domain string, rules *ExclusionRules) Resolution {
	if rules == nil {
		rules = AllowAll()
	}
	return Resolution{Domain: domain, Rules: rules}
}

// FailedOpen builds a Resolution that permits everything because of err
func FailedOpen(domain string, err error) Resolution {
	return Resolution{Domain: domain, FailOpen: true, Err: err}
}

// Allowed is always true for a fail-open resolution
func (r Resolution) Allowed(path string) bool {
	if r.FailOpen {
		return true
	}
	return r.Rules.Allowed(path)
}

// CrawlDelay is 0 for a fail-open resolution
func (r Resolution) CrawlDelay() time.Duration {
	if r.FailOpen {
		return 0
	}
	return r.Rules.CrawlDelay()
}

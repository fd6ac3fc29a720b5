package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Sriram-PR/crawl-scheduler/pkg/fetch"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// maxRobotsBytes caps how much of a robots.txt body is read
const maxRobotsBytes = 1 << 20

// RulesSource loads the exclusion rules for one domain
type RulesSource interface {
	Load(ctx context.Context, domain string) (*ExclusionRules, error)
}

// SourceFunc adapts a function to RulesSource
type SourceFunc func(ctx context.Context, domain string) (*ExclusionRules, error)

// Load implements RulesSource
func (f SourceFunc) Load(ctx context.Context, domain string) (*ExclusionRules, error) {
	return f(ctx, domain)
}

// StaticSource returns the same rules for every domain without any I/O
func StaticSource(rules *ExclusionRules) RulesSource {
	return SourceFunc(func(context.Context, string) (*ExclusionRules, error) {
		return rules, nil
	})
}

// HTTPRulesSource fetches <scheme>://<domain>/robots.txt through a retrying fetcher
type HTTPRulesSource struct {
	fetcher   *fetch.Fetcher
	parser    RulesParser
	scheme    string
	userAgent string
	limiter   *rate.Limiter // nil = unlimited
	log       *logrus.Entry
}

// NewHTTPRulesSource creates an HTTPRulesSource. An empty scheme means https
func NewHTTPRulesSource(fetcher *fetch.Fetcher, parser RulesParser, scheme, userAgent string, log *logrus.Entry) *HTTPRulesSource {
	if scheme == "" {
		scheme = "https"
	}
	return &HTTPRulesSource{
		fetcher:   fetcher,
		parser:    parser,
		scheme:    scheme,
		userAgent: userAgent,
		log:       log,
	}
}

// WithRateLimit paces fetches across all domains to perSecond with the given
// burst. A non-positive rate removes the limit.
func (s *HTTPRulesSource) WithRateLimit(perSecond float64, burst int) *HTTPRulesSource {
	if perSecond <= 0 {
		s.limiter = nil
		return s
	}
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return s
}

// RobotsURL returns the robots.txt location for domain (host or host:port)
func (s *HTTPRulesSource) RobotsURL(domain string) string {
	return (&url.URL{Scheme: s.scheme, Host: domain, Path: "/robots.txt"}).String()
}

// Load implements RulesSource. A 4xx response means no robots.txt exists and
// yields allow-all rules. Transport errors, exhausted retries, 5xx and parse
// failures return an error wrapping utils.ErrRulesFetch.
func (s *HTTPRulesSource) Load(ctx context.Context, domain string) (*ExclusionRules, error) {
	robotsURL := s.RobotsURL(domain)
	robotsLog := s.log.WithFields(logrus.Fields{"domain": domain, "robots_url": robotsURL})
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: waiting for fetch slot: %w", utils.ErrRulesFetch, robotsURL, err)
		}
	}
	robotsLog.Debug("Fetching robots.txt...")

	resp, err := s.fetcher.Get(ctx, robotsURL, s.userAgent)
	if err != nil {
		// The fetcher hands back the response for a non-retryable 4xx; the parser decides what it means
		if resp == nil || !errors.Is(err, utils.ErrClientHTTPError) {
			if resp != nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			return nil, fmt.Errorf("%w: %s: %w", utils.ErrRulesFetch, robotsURL, err)
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w: %w", utils.ErrRulesFetch, robotsURL, utils.ErrResponseBodyRead, err)
	}

	rules, err := s.parser.Parse(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrRulesFetch, robotsURL, err)
	}
	robotsLog.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"bytes":       len(body),
		"crawl_delay": rules.CrawlDelay(),
		"sitemaps":    len(rules.Sitemaps()),
	}).Debug("Parsed robots.txt")
	return rules, nil
}

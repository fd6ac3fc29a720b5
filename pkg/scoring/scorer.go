// Package scoring assigns fetch priorities to admitted URLs.
package scoring

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sriram-PR/crawl-scheduler/pkg/config"
	"github.com/Sriram-PR/crawl-scheduler/pkg/models"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// SkipScore is the score a Scorer returns to have a URL SKIPPED
const SkipScore = 0.0

// Scorer ranks a URL record. Higher scores are fetched first; a score for
// which IsSkip is true means the URL should not be fetched at all.
type Scorer interface {
	Score(rec models.URLRecord) float64
}

// ScorerFunc adapts a function to Scorer
type ScorerFunc func(rec models.URLRecord) float64

// Score implements Scorer
func (f ScorerFunc) Score(rec models.URLRecord) float64 { return f(rec) }

// IsSkip reports whether score means "do not fetch": non-positive, NaN or infinite
func IsSkip(score float64) bool {
	return score <= 0 || math.IsNaN(score) || math.IsInf(score, 0)
}

// FixedScorer gives every URL the same score
type FixedScorer float64

// Score implements Scorer
func (s FixedScorer) Score(models.URLRecord) float64 { return float64(s) }

// PathDepthScorer favours shallow pages: 1/(1+n) for n non-empty path segments.
// A "score" payload key, when it parses as a float, overrides the computed value.
type PathDepthScorer struct{}

// Score implements Scorer
func (PathDepthScorer) Score(rec models.URLRecord) float64 {
	if v, ok := rec.Payload["score"]; ok {
		if override, err := strconv.ParseFloat(v, 64); err == nil {
			return override
		}
	}
	u, err := url.Parse(rec.URL)
	if err != nil {
		return SkipScore
	}
	depth := 0
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			depth++
		}
	}
	return 1 / float64(1+depth)
}

// New selects a Scorer from validated config
func New(cfg *config.AppConfig) (Scorer, error) {
	switch cfg.Scorer {
	case config.ScorerFixed, "":
		return FixedScorer(cfg.FixedScore), nil
	case config.ScorerPathDepth:
		return PathDepthScorer{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown scorer '%s'", utils.ErrConfigValidation, cfg.Scorer)
	}
}

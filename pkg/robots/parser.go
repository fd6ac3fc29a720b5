package robots

import (
	"fmt"

	"github.com/temoto/robotstxt"

	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// RulesParser turns a robots.txt response into ExclusionRules
type RulesParser interface {
	Parse(statusCode int, body []byte) (*ExclusionRules, error)
}

// ParserFunc adapts a function to RulesParser
type ParserFunc func(statusCode int, body []byte) (*ExclusionRules, error)

// Parse implements RulesParser
func (f ParserFunc) Parse(statusCode int, body []byte) (*ExclusionRules, error) {
	return f(statusCode, body)
}

// RobotstxtParser parses with github.com/temoto/robotstxt.
// 2xx bodies are parsed, 4xx means no robots.txt (allow all).
// 5xx is an error so the resolver can fail open instead of blocking the domain.
type RobotstxtParser struct {
	UserAgent string
}

// Parse implements RulesParser
func (p RobotstxtParser) Parse(statusCode int, body []byte) (*ExclusionRules, error) {
	if statusCode >= 500 {
		return nil, fmt.Errorf("%w: robots.txt status %d", utils.ErrServerHTTPError, statusCode)
	}
	data, err := robotstxt.FromStatusAndBytes(statusCode, body)
	if err != nil {
		return nil, fmt.Errorf("%w: robots.txt body (status %d): %w", utils.ErrParsing, statusCode, err)
	}
	return NewExclusionRules(data, p.UserAgent), nil
}

package models

import "time"

// URLRecord is a URL plus opaque metadata carried through the pipeline
// The payload is never inspected by the scheduler, only passed to the scorer and the output
type URLRecord struct {
	URL     string            `json:"url"`
	Payload map[string]string `json:"payload,omitempty"`
}

// DomainGroup is a batch of records that share one domain
type DomainGroup struct {
	Domain  string
	Records []URLRecord
}

// ScoredURL is the classification result for a single URL
type ScoredURL struct {
	URL          string            `json:"url"`
	Domain       string            `json:"domain"`
	Disposition  Disposition       `json:"disposition"`
	Score        float64           `json:"score,omitempty"`       // Only meaningful when accepted
	CrawlDelay   time.Duration     `json:"crawl_delay,omitempty"` // Domain crawl-delay at classification time
	FailOpen     bool              `json:"fail_open,omitempty"`   // Domain rules could not be determined
	Reason       string            `json:"reason,omitempty"`      // Why the URL was not accepted
	Payload      map[string]string `json:"payload,omitempty"`     // Copied from the input record
	ClassifiedAt time.Time         `json:"classified_at"`         // When the disposition was assigned
}

// IsAccepted is a shorthand used by fetch-ordering consumers
func (s ScoredURL) IsAccepted() bool {
	return s.Disposition == DispositionAccepted
}

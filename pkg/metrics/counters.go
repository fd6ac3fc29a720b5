// Package metrics defines the closed set of scheduling counters and the sinks that record them.
package metrics

import (
	"fmt"
	"sync/atomic"
)

// FetchCounter identifies one counter in the fixed scheduling counter set
// Adding a counter means adding a constant here and a name in counterNames
type FetchCounter int

const (
	DomainsProcessing FetchCounter = iota // Domain rules task started
	DomainsFinished                       // Domain rules resolved and held URLs classified
	DomainsDeferred                       // Domain turned away because the resolver backlog is full
	DomainsFailOpen                       // Domain rules could not be determined
	UrlsAccepted
	UrlsBlocked
	UrlsRejected
	UrlsDeferred
	UrlsSkipped
	UrlsSkippedPerServerLimit // Subset of UrlsSkipped caused by max_urls_per_server

	numCounters // must stay last
)

var counterNames = [numCounters]string{
	DomainsProcessing:         "domains_processing",
	DomainsFinished:           "domains_finished",
	DomainsDeferred:           "domains_deferred",
	DomainsFailOpen:           "domains_fail_open",
	UrlsAccepted:              "urls_accepted",
	UrlsBlocked:               "urls_blocked",
	UrlsRejected:              "urls_rejected",
	UrlsDeferred:              "urls_deferred",
	UrlsSkipped:               "urls_skipped",
	UrlsSkippedPerServerLimit: "urls_skipped_per_server_limit",
}

// AllCounters returns every counter in declaration order
func AllCounters() []FetchCounter {
	all := make([]FetchCounter, 0, numCounters)
	for c := FetchCounter(0); c < numCounters; c++ {
		all = append(all, c)
	}
	return all
}

// String implements fmt.Stringer
func (c FetchCounter) String() string {
	if !c.IsValid() {
		return fmt.Sprintf("FetchCounter(%d)", int(c))
	}
	return counterNames[c]
}

// IsValid reports whether c belongs to the closed counter set
func (c FetchCounter) IsValid() bool {
	return c >= 0 && c < numCounters
}

// Counters is the sink the scheduler reports to
type Counters interface {
	Increment(c FetchCounter, delta int64)
}

// MemoryCounters keeps counter values in process, safe for concurrent use
type MemoryCounters struct {
	values [numCounters]atomic.Int64
}

// NewMemoryCounters creates a zeroed in-memory counter sink
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{}
}

// Increment implements Counters. Unknown counters are ignored
func (m *MemoryCounters) Increment(c FetchCounter, delta int64) {
	if !c.IsValid() {
		return
	}
	m.values[c].Add(delta)
}

// Get returns the current value of a counter
func (m *MemoryCounters) Get(c FetchCounter) int64 {
	if !c.IsValid() {
		return 0
	}
	return m.values[c].Load()
}

// Snapshot returns all counter values keyed by counter name
func (m *MemoryCounters) Snapshot() map[string]int64 {
	snap := make(map[string]int64, numCounters)
	for _, c := range AllCounters() {
		snap[c.String()] = m.values[c].Load()
	}
	return snap
}

// multiCounters fans increments out to several sinks
type multiCounters []Counters

// Multi combines sinks; nil entries are dropped
func Multi(sinks ...Counters) Counters {
	out := make(multiCounters, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiCounters) Increment(c FetchCounter, delta int64) {
	for _, s := range m {
		s.Increment(c, delta)
	}
}

// Discard is a sink that drops every increment
var Discard Counters = discard{}

type discard struct{}

func (discard) Increment(FetchCounter, int64) {}

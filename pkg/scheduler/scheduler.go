// Package scheduler classifies batches of same-domain URLs against each
// domain's exclusion rules and a scoring function.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-scheduler/pkg/metrics"
	"github.com/Sriram-PR/crawl-scheduler/pkg/models"
	"github.com/Sriram-PR/crawl-scheduler/pkg/parse"
	"github.com/Sriram-PR/crawl-scheduler/pkg/robots"
	"github.com/Sriram-PR/crawl-scheduler/pkg/scoring"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// Reasons recorded on non-accepted results that are not errors
const (
	ReasonDomainMismatch = "Input_DomainMismatch"
	ReasonDisallowed     = "Rules_Disallowed"
	ReasonScoreSkip      = "Score_Skip"
	ReasonServerLimit    = "Limit_PerServer"
	ReasonBacklogFull    = "Limit_OutstandingDomains"
)

// Options configures a Scheduler
type Options struct {
	Resolver              *robots.Resolver // Required
	Scorer                scoring.Scorer   // Required
	Emitter               Emitter          // Required
	Counters              metrics.Counters
	MaxOutstandingDomains int // Defer new domains once this many are processing and the pool is full (0 = never)
	MaxURLsPerServer      int // Accept at most this many URLs per domain; the rest are SKIPPED (0 = unlimited)
	Logger                *logrus.Entry
}

// Scheduler is the per-run politeness operator. Each domain moves through
// PENDING -> PROCESSING -> FINISHED exactly once; its URLs are held until the
// domain's rules resolve and are then classified against that one snapshot.
// Safe for concurrent use.
type Scheduler struct {
	resolver       *robots.Resolver
	scorer         scoring.Scorer
	emitter        Emitter
	counters       metrics.Counters
	maxOutstanding int
	maxPerServer   int
	log            *logrus.Entry

	mu         sync.Mutex
	domains    map[string]*domainTask
	processing int // Domains currently in PROCESSING

	tally       [numDispositions]atomic.Int64
	emitErrors  atomic.Int64
	deferredDom atomic.Int64
	failOpenDom atomic.Int64
}

type domainTask struct {
	state      models.DomainState
	held       []models.URLRecord
	resolution robots.Resolution
	admitted   atomic.Int64 // URLs that passed scoring, for the per-server limit
}

const numDispositions = 5

// dispositionIndex gives each disposition a slot in Scheduler.tally
var dispositionIndex = map[models.Disposition]int{
	models.DispositionAccepted: 0,
	models.DispositionBlocked:  1,
	models.DispositionDeferred: 2,
	models.DispositionRejected: 3,
	models.DispositionSkipped:  4,
}

var dispositionCounter = map[models.Disposition]metrics.FetchCounter{
	models.DispositionAccepted: metrics.UrlsAccepted,
	models.DispositionBlocked:  metrics.UrlsBlocked,
	models.DispositionDeferred: metrics.UrlsDeferred,
	models.DispositionRejected: metrics.UrlsRejected,
	models.DispositionSkipped:  metrics.UrlsSkipped,
}

// New creates a Scheduler
func New(opts Options) (*Scheduler, error) {
	if opts.Resolver == nil || opts.Scorer == nil || opts.Emitter == nil {
		return nil, fmt.Errorf("%w: scheduler needs a resolver, a scorer and an emitter", utils.ErrConfigValidation)
	}
	if opts.MaxOutstandingDomains < 0 || opts.MaxURLsPerServer < 0 {
		return nil, fmt.Errorf("%w: scheduler limits cannot be negative", utils.ErrConfigValidation)
	}
	if opts.Counters == nil {
		opts.Counters = metrics.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		resolver:       opts.Resolver,
		scorer:         opts.Scorer,
		emitter:        opts.Emitter,
		counters:       opts.Counters,
		maxOutstanding: opts.MaxOutstandingDomains,
		maxPerServer:   opts.MaxURLsPerServer,
		log:            opts.Logger.WithField("component", "scheduler"),
		domains:        make(map[string]*domainTask),
	}, nil
}

// Classify accepts one group of same-domain records. It never blocks on the
// network: a new domain's rules are requested asynchronously and its records
// held until they resolve. Records of a domain whose rules are already known
// are classified and emitted before Classify returns.
func (s *Scheduler) Classify(ctx context.Context, group models.DomainGroup) {
	if len(group.Records) == 0 {
		return
	}
	domain := strings.ToLower(group.Domain)
	domainLog := s.log.WithField("domain", domain)

	if domain == "" {
		domainLog.WithField("urls", len(group.Records)).Debug("Rejecting records without a usable domain")
		for _, rec := range group.Records {
			s.emit(s.rejected(domain, rec, fmt.Errorf("%w: no domain for '%s'", utils.ErrMalformedURL, rec.URL)))
		}
		return
	}

	s.mu.Lock()
	t, seen := s.domains[domain]
	if !seen {
		if s.backlogFull() {
			s.mu.Unlock()
			s.deferDomain(domainLog, domain, group.Records)
			return
		}
		t = &domainTask{}
		s.transition(domainLog, t, models.DomainStatePending)
		s.domains[domain] = t
	}

	switch t.state {
	case models.DomainStatePending:
		t.held = append(t.held, group.Records...)
		s.transition(domainLog, t, models.DomainStateProcessing)
		s.processing++
		s.mu.Unlock()

		s.counters.Increment(metrics.DomainsProcessing, 1)
		domainLog.WithField("held_urls", len(group.Records)).Debug("Domain processing, rules requested")
		s.resolver.Resolve(ctx, domain, func(res robots.Resolution) {
			s.finishDomain(domainLog, domain, t, res)
		})

	case models.DomainStateProcessing:
		t.held = append(t.held, group.Records...)
		s.mu.Unlock()

	default: // Finished: rules are fixed for the rest of the run
		res := t.resolution
		s.mu.Unlock()
		for _, rec := range group.Records {
			s.emit(s.classifyOne(domain, t, res, rec))
		}
	}
}

// backlogFull reports whether a new domain must be deferred. Caller holds s.mu
func (s *Scheduler) backlogFull() bool {
	return s.maxOutstanding > 0 && s.processing >= s.maxOutstanding && s.resolver.Saturated()
}

func (s *Scheduler) deferDomain(domainLog *logrus.Entry, domain string, records []models.URLRecord) {
	s.counters.Increment(metrics.DomainsDeferred, 1)
	s.deferredDom.Add(1)
	domainLog.WithFields(logrus.Fields{
		"urls":                    len(records),
		"max_outstanding_domains": s.maxOutstanding,
		"resolver_in_flight":      s.resolver.InFlight(),
	}).Warn("Resolver backlog full, deferring domain")
	now := time.Now()
	for _, rec := range records {
		s.emit(models.ScoredURL{
			URL:          rec.URL,
			Domain:       domain,
			Disposition:  models.DispositionDeferred,
			Reason:       ReasonBacklogFull,
			Payload:      rec.Payload,
			ClassifiedAt: now,
		})
	}
}

// finishDomain runs once per domain when its rules resolve. It drains held
// records, including any that arrive while draining, then marks the domain FINISHED.
func (s *Scheduler) finishDomain(domainLog *logrus.Entry, domain string, t *domainTask, res robots.Resolution) {
	if res.FailOpen {
		s.failOpenDom.Add(1)
	}

	s.mu.Lock()
	t.resolution = res
	for {
		held := t.held
		t.held = nil
		if len(held) == 0 {
			break
		}
		s.mu.Unlock()
		for _, rec := range held {
			s.emit(s.classifyOne(domain, t, res, rec))
		}
		s.mu.Lock()
	}
	s.transition(domainLog, t, models.DomainStateFinished)
	s.processing--
	s.mu.Unlock()

	s.counters.Increment(metrics.DomainsFinished, 1)
	domainLog.WithFields(logrus.Fields{
		"fail_open":   res.FailOpen,
		"crawl_delay": res.CrawlDelay(),
		"duration":    res.Duration,
	}).Info("Domain finished")
}

// transition moves t to next. Caller holds s.mu
func (s *Scheduler) transition(domainLog *logrus.Entry, t *domainTask, next models.DomainState) {
	if !t.state.CanTransitionTo(next) {
		domainLog.Errorf("Invalid domain state transition %s -> %s", t.state, next)
	}
	t.state = next
}

// classifyOne assigns exactly one disposition. Checks run in order:
// malformed or foreign URL, exclusion rules, score, per-server limit.
func (s *Scheduler) classifyOne(domain string, t *domainTask, res robots.Resolution, rec models.URLRecord) models.ScoredURL {
	u, err := parse.ValidateCrawlURL(rec.URL)
	if err != nil {
		return s.rejected(domain, rec, err)
	}
	out := models.ScoredURL{
		URL:          rec.URL,
		Domain:       domain,
		FailOpen:     res.FailOpen,
		Payload:      rec.Payload,
		ClassifiedAt: time.Now(),
	}
	if parse.DomainOf(u) != domain {
		out.Disposition = models.DispositionRejected
		out.Reason = ReasonDomainMismatch
		return out
	}

	if !res.Allowed(parse.RequestPath(u)) {
		out.Disposition = models.DispositionBlocked
		out.Reason = ReasonDisallowed
		return out
	}

	score := s.scorer.Score(rec)
	if scoring.IsSkip(score) {
		out.Disposition = models.DispositionSkipped
		out.Reason = ReasonScoreSkip
		return out
	}

	if s.maxPerServer > 0 && t.admitted.Add(1) > int64(s.maxPerServer) {
		s.counters.Increment(metrics.UrlsSkippedPerServerLimit, 1)
		out.Disposition = models.DispositionSkipped
		out.Reason = ReasonServerLimit
		return out
	}

	out.Disposition = models.DispositionAccepted
	out.Score = score
	out.CrawlDelay = res.CrawlDelay()
	return out
}

func (s *Scheduler) rejected(domain string, rec models.URLRecord, err error) models.ScoredURL {
	return models.ScoredURL{
		URL:          rec.URL,
		Domain:       domain,
		Disposition:  models.DispositionRejected,
		Reason:       utils.CategorizeError(err),
		Payload:      rec.Payload,
		ClassifiedAt: time.Now(),
	}
}

// emit counts the disposition and hands the record to the emitter. Emit
// failures are logged and tallied; they never stop classification.
func (s *Scheduler) emit(out models.ScoredURL) {
	s.counters.Increment(dispositionCounter[out.Disposition], 1)
	s.tally[dispositionIndex[out.Disposition]].Add(1)

	s.log.WithFields(logrus.Fields{
		"url":         out.URL,
		"domain":      out.Domain,
		"disposition": out.Disposition,
		"score":       out.Score,
		"reason":      out.Reason,
	}).Debug("Classified URL")

	if err := s.emitter.Emit(out); err != nil {
		s.emitErrors.Add(1)
		s.log.WithFields(logrus.Fields{
			"url":            out.URL,
			"error":          err,
			"error_category": utils.CategorizeError(err),
		}).Error("Failed to emit result")
	}
}

// AwaitCompletion blocks until every domain dispatched so far has FINISHED
// and all its records have been emitted, or ctx is done. The Summary reflects
// everything emitted up to the return.
func (s *Scheduler) AwaitCompletion(ctx context.Context) (Summary, error) {
	err := s.resolver.AwaitAll(ctx)
	sum := s.Summary()
	if err != nil {
		return sum, fmt.Errorf("waiting for domain rules: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"domains":           sum.Domains,
		"rules_fetched":     sum.RulesFetched,
		"fail_open_domains": sum.FailOpenDomains,
		"deferred_domains":  sum.DeferredDomains,
		"accepted":          sum.Count(models.DispositionAccepted),
		"blocked":           sum.Count(models.DispositionBlocked),
		"rejected":          sum.Count(models.DispositionRejected),
		"skipped":           sum.Count(models.DispositionSkipped),
		"deferred":          sum.Count(models.DispositionDeferred),
		"emit_errors":       sum.EmitErrors,
	}).Info("Scheduling complete")
	return sum, nil
}

// DomainState returns the lifecycle state of domain, false if never seen
func (s *Scheduler) DomainState(domain string) (models.DomainState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.domains[strings.ToLower(domain)]
	if !ok {
		return models.DomainStateUnset, false
	}
	return t.state, true
}

// FailedOpen returns the domains whose rules could not be determined, with the cause
func (s *Scheduler) FailedOpen() map[string]error {
	s.mu.Lock()
	domains := make([]string, 0, len(s.domains))
	for d := range s.domains {
		domains = append(domains, d)
	}
	s.mu.Unlock()

	failed := make(map[string]error)
	for _, d := range domains {
		if res, ok := s.resolver.Lookup(d); ok && res.FailOpen {
			failed[d] = res.Err
		}
	}
	return failed
}

// Summary snapshots the run's totals
func (s *Scheduler) Summary() Summary {
	s.mu.Lock()
	domains := len(s.domains)
	s.mu.Unlock()

	sum := Summary{
		Domains:         domains,
		RulesFetched:    s.resolver.Domains(),
		FailOpenDomains: int(s.failOpenDom.Load()),
		DeferredDomains: int(s.deferredDom.Load()),
		EmitErrors:      s.emitErrors.Load(),
		Dispositions:    make(map[models.Disposition]int64, len(dispositionIndex)),
	}
	for d, i := range dispositionIndex {
		sum.Dispositions[d] = s.tally[i].Load()
	}
	return sum
}

// Summary is the outcome of a scheduling run
type Summary struct {
	Domains         int                          `json:"domains"`       // Distinct domains dispatched
	RulesFetched    int                          `json:"rules_fetched"` // Domains handed to the resolver
	FailOpenDomains int                          `json:"fail_open_domains"`
	DeferredDomains int                          `json:"deferred_domains"` // Deferral events, not distinct domains
	EmitErrors      int64                        `json:"emit_errors"`
	Dispositions    map[models.Disposition]int64 `json:"dispositions"`
}

// Count returns the number of URLs tagged d
func (s Summary) Count(d models.Disposition) int64 {
	return s.Dispositions[d]
}

// Total returns the number of URLs classified
func (s Summary) Total() int64 {
	var n int64
	for _, c := range s.Dispositions {
		n += c
	}
	return n
}

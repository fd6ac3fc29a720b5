package robots

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/crawl-scheduler/pkg/metrics"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// ResolverOptions configures a Resolver
type ResolverOptions struct {
	PoolSize int           // Concurrent fetch-and-parse tasks (>= 1)
	Timeout  time.Duration // Per-task limit, measured from when the task gets a pool slot (> 0)
	Counters metrics.Counters
	Logger   *logrus.Entry
}

// Resolver resolves exclusion rules once per domain for its lifetime, on a
// bounded pool. Concurrent requests for a domain share one task; failures
// and timeouts resolve fail-open. Safe for concurrent use.
type Resolver struct {
	source   RulesSource
	sem      *semaphore.Weighted
	poolSize int
	timeout  time.Duration
	counters metrics.Counters
	log      *logrus.Entry

	mu      sync.Mutex
	tasks   map[string]*resolveTask
	pending int           // Tasks dispatched but not yet resolved
	active  int           // Tasks whose callbacks have not all returned
	idle    chan struct{} // Closed when active drops to zero
}

type resolveTask struct {
	done      bool
	result    Resolution
	callbacks []func(Resolution)
}

// NewResolver creates a Resolver reading rules from source
func NewResolver(source RulesSource, opts ResolverOptions) (*Resolver, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: resolver needs a rules source", utils.ErrConfigValidation)
	}
	if opts.PoolSize < 1 {
		return nil, fmt.Errorf("%w: resolver pool size must be >= 1, got %d", utils.ErrConfigValidation, opts.PoolSize)
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("%w: resolver timeout must be > 0, got %v", utils.ErrConfigValidation, opts.Timeout)
	}
	if opts.Counters == nil {
		opts.Counters = metrics.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	idle := make(chan struct{})
	close(idle)
	return &Resolver{
		source:   source,
		sem:      semaphore.NewWeighted(int64(opts.PoolSize)),
		poolSize: opts.PoolSize,
		timeout:  opts.Timeout,
		counters: opts.Counters,
		log:      opts.Logger.WithField("component", "resolver"),
		tasks:    make(map[string]*resolveTask),
		idle:     idle,
	}, nil
}

// Resolve requests the rules for domain without blocking. onResolved (may be
// nil) runs exactly once with the Resolution: on the task goroutine if the
// task is still running, or on the caller's goroutine if it already finished.
// Returns true if this call dispatched a new task.
func (r *Resolver) Resolve(ctx context.Context, domain string, onResolved func(Resolution)) bool {
	r.mu.Lock()
	if t, ok := r.tasks[domain]; ok {
		if t.done {
			res := t.result
			r.mu.Unlock()
			if onResolved != nil {
				onResolved(res)
			}
			return false
		}
		if onResolved != nil {
			t.callbacks = append(t.callbacks, onResolved)
		}
		r.mu.Unlock()
		return false
	}

	t := &resolveTask{}
	if onResolved != nil {
		t.callbacks = append(t.callbacks, onResolved)
	}
	r.tasks[domain] = t
	r.pending++
	if r.active == 0 {
		r.idle = make(chan struct{})
	}
	r.active++
	r.mu.Unlock()

	r.log.WithField("domain", domain).Debug("Dispatched rules task")
	go r.run(ctx, domain, t)
	return true
}

func (r *Resolver) run(ctx context.Context, domain string, t *resolveTask) {
	start := time.Now()
	res := r.load(ctx, domain)
	res.Domain = domain
	res.Duration = time.Since(start)

	r.mu.Lock()
	t.done = true
	t.result = res
	callbacks := t.callbacks
	t.callbacks = nil
	r.pending--
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb(res)
	}

	r.mu.Lock()
	r.active--
	if r.active == 0 {
		close(r.idle)
	}
	r.mu.Unlock()
}

type loadResult struct {
	rules *ExclusionRules
	err   error
}

// load waits for a pool slot, then runs the source under the task timeout.
// A source that ignores its context is abandoned at the deadline.
func (r *Resolver) load(ctx context.Context, domain string) Resolution {
	domainLog := r.log.WithField("domain", domain)

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return r.failOpen(domainLog, domain, fmt.Errorf("%w: %w: %w", utils.ErrRulesFetch, utils.ErrSemaphoreTimeout, err))
	}
	defer r.sem.Release(1)

	taskCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ch := make(chan loadResult, 1)
	go func() {
		rules, err := r.source.Load(taskCtx, domain)
		ch <- loadResult{rules: rules, err: err}
	}()

	select {
	case lr := <-ch:
		if lr.err != nil {
			err := lr.err
			if !errors.Is(err, utils.ErrRulesFetch) {
				err = fmt.Errorf("%w: %s: %w", utils.ErrRulesFetch, domain, err)
			}
			return r.failOpen(domainLog, domain, err)
		}
		domainLog.WithField("crawl_delay", lr.rules.CrawlDelay()).Debug("Rules resolved")
		return Resolved(domain, lr.rules)
	case <-taskCtx.Done():
		return r.failOpen(domainLog, domain, fmt.Errorf("%w: %s after %v: %w", utils.ErrRulesFetch, domain, r.timeout, taskCtx.Err()))
	}
}

func (r *Resolver) failOpen(domainLog *logrus.Entry, domain string, err error) Resolution {
	r.counters.Increment(metrics.DomainsFailOpen, 1)
	domainLog.WithFields(logrus.Fields{
		"error":          err,
		"error_category": utils.CategorizeError(err),
	}).Warn("Could not determine exclusion rules, failing open")
	return FailedOpen(domain, err)
}

// AwaitAll blocks until every dispatched task has resolved and its callbacks
// have returned, or ctx is done. Tasks dispatched while waiting are waited for too.
func (r *Resolver) AwaitAll(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.active == 0 {
			r.mu.Unlock()
			return nil
		}
		idle := r.idle
		r.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Lookup returns the Resolution for domain if its task has finished
func (r *Resolver) Lookup(domain string) (Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[domain]
	if !ok || !t.done {
		return Resolution{}, false
	}
	return t.result, true
}

// InFlight returns the number of dispatched tasks not yet resolved
func (r *Resolver) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Saturated reports whether every pool slot is spoken for
func (r *Resolver) Saturated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending >= r.poolSize
}

// Domains returns how many distinct domains have been dispatched
func (r *Resolver) Domains() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

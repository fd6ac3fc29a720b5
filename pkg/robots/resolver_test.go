package robots

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/crawl-scheduler/pkg/metrics"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

func newTestResolver(t *testing.T, src RulesSource, pool int, timeout time.Duration) (*Resolver, *metrics.MemoryCounters) {
	t.Helper()
	counters := metrics.NewMemoryCounters()
	r, err := NewResolver(src, ResolverOptions{
		PoolSize: pool,
		Timeout:  timeout,
		Counters: counters,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	return r, counters
}

func awaitAll(t *testing.T, r *Resolver) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.AwaitAll(ctx))
}

func TestNewResolver_Validation(t *testing.T) {
	src := StaticSource(AllowAll())
	tests := []struct {
		name string
		src  RulesSource
		opts ResolverOptions
	}{
		{"nil source", nil, ResolverOptions{PoolSize: 1, Timeout: time.Second}},
		{"zero pool", src, ResolverOptions{PoolSize: 0, Timeout: time.Second}},
		{"zero timeout", src, ResolverOptions{PoolSize: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.src, tt.opts)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
		})
	}
}

func TestResolver_CoalescesConcurrentRequests(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	src := SourceFunc(func(ctx context.Context, domain string) (*ExclusionRules, error) {
		loads.Add(1)
		<-release
		return DisallowAll(), nil
	})
	r, _ := newTestResolver(t, src, 4, 5*time.Second)

	var callbacks atomic.Int32
	var dispatched atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Resolve(context.Background(), "example.com", func(res Resolution) {
				assert.False(t, res.Allowed("/"))
				callbacks.Add(1)
			}) {
				dispatched.Add(1)
			}
		}()
	}
	wg.Wait()
	close(release)
	awaitAll(t, r)

	assert.Equal(t, int32(1), loads.Load(), "one fetch per domain")
	assert.Equal(t, int32(1), dispatched.Load())
	assert.Equal(t, int32(20), callbacks.Load())
	assert.Equal(t, 1, r.Domains())
}

func TestResolver_CachedResultFiresImmediately(t *testing.T) {
	var loads atomic.Int32
	src := SourceFunc(func(context.Context, string) (*ExclusionRules, error) {
		loads.Add(1)
		return AllowAll(), nil
	})
	r, _ := newTestResolver(t, src, 1, time.Second)

	r.Resolve(context.Background(), "example.com", nil)
	awaitAll(t, r)

	fired := false
	dispatched := r.Resolve(context.Background(), "example.com", func(res Resolution) { fired = true })

	assert.False(t, dispatched)
	assert.True(t, fired, "callback runs synchronously once resolved")
	assert.Equal(t, int32(1), loads.Load())

	res, ok := r.Lookup("example.com")
	require.True(t, ok)
	assert.False(t, res.FailOpen)
	assert.Equal(t, "example.com", res.Domain)

	_, ok = r.Lookup("other.example")
	assert.False(t, ok)
}

func TestResolver_TimeoutFailsOpenOncePerDomain(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, domain string) (*ExclusionRules, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r, counters := newTestResolver(t, src, 2, 50*time.Millisecond)

	var results []Resolution
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		r.Resolve(context.Background(), "slow.example", func(res Resolution) {
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		})
	}
	awaitAll(t, r)

	require.Len(t, results, 5)
	for _, res := range results {
		assert.True(t, res.FailOpen)
		assert.True(t, res.Allowed("/private"))
		assert.ErrorIs(t, res.Err, utils.ErrRulesFetch)
		assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	}
	assert.Equal(t, int64(1), counters.Get(metrics.DomainsFailOpen))
	assert.Equal(t, "Rules_Timeout", utils.CategorizeError(results[0].Err))
}

func TestResolver_AbandonsSourceIgnoringContext(t *testing.T) {
	stuck := make(chan struct{})
	t.Cleanup(func() { close(stuck) })
	src := SourceFunc(func(context.Context, string) (*ExclusionRules, error) {
		<-stuck
		return DisallowAll(), nil
	})
	r, counters := newTestResolver(t, src, 1, 50*time.Millisecond)

	start := time.Now()
	r.Resolve(context.Background(), "hung.example", nil)
	awaitAll(t, r)

	assert.Less(t, time.Since(start), 5*time.Second)
	res, ok := r.Lookup("hung.example")
	require.True(t, ok)
	assert.True(t, res.FailOpen)
	assert.Equal(t, int64(1), counters.Get(metrics.DomainsFailOpen))
}

func TestResolver_SourceErrorFailsOpen(t *testing.T) {
	src := SourceFunc(func(context.Context, string) (*ExclusionRules, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	r, counters := newTestResolver(t, src, 1, time.Second)

	r.Resolve(context.Background(), "down.example", nil)
	awaitAll(t, r)

	res, ok := r.Lookup("down.example")
	require.True(t, ok)
	assert.True(t, res.FailOpen)
	assert.ErrorIs(t, res.Err, utils.ErrRulesFetch)
	assert.Equal(t, int64(1), counters.Get(metrics.DomainsFailOpen))
}

func TestResolver_PoolBound(t *testing.T) {
	const pool = 3
	var running, peak atomic.Int32
	src := SourceFunc(func(context.Context, string) (*ExclusionRules, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return AllowAll(), nil
	})
	r, counters := newTestResolver(t, src, pool, 5*time.Second)

	for i := 0; i < 12; i++ {
		r.Resolve(context.Background(), fmt.Sprintf("d%d.example", i), nil)
	}
	assert.True(t, r.Saturated())
	awaitAll(t, r)

	assert.LessOrEqual(t, peak.Load(), int32(pool))
	assert.Equal(t, 0, r.InFlight())
	assert.False(t, r.Saturated())
	assert.Equal(t, 12, r.Domains())
	assert.Equal(t, int64(0), counters.Get(metrics.DomainsFailOpen))
}

func TestResolver_AwaitAllHonoursContext(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	src := SourceFunc(func(context.Context, string) (*ExclusionRules, error) {
		<-release
		return AllowAll(), nil
	})
	r, _ := newTestResolver(t, src, 1, time.Minute)
	r.Resolve(context.Background(), "example.com", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := r.AwaitAll(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, r.InFlight())
}

func TestResolver_AwaitAllWithNothingDispatched(t *testing.T) {
	r, _ := newTestResolver(t, StaticSource(AllowAll()), 1, time.Second)

	assert.NoError(t, r.AwaitAll(context.Background()))
}

func TestResolver_AwaitAllCoversCallbacks(t *testing.T) {
	r, _ := newTestResolver(t, StaticSource(AllowAll()), 2, time.Second)

	var finished atomic.Bool
	r.Resolve(context.Background(), "example.com", func(Resolution) {
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})
	awaitAll(t, r)

	assert.True(t, finished.Load())
}

func TestResolver_HTTPSourceTimeout(t *testing.T) {
	release := make(chan struct{})
	server := newSlowRobotsServer(t, release)
	t.Cleanup(func() { close(release) })

	r, counters := newTestResolver(t, testSource("crawl-scheduler/1.0"), 2, 100*time.Millisecond)
	r.Resolve(context.Background(), serverDomain(server), nil)
	awaitAll(t, r)

	res, ok := r.Lookup(serverDomain(server))
	require.True(t, ok)
	assert.True(t, res.FailOpen)
	assert.Equal(t, int64(1), counters.Get(metrics.DomainsFailOpen))
}

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCounter_ClosedSet(t *testing.T) {
	all := AllCounters()
	require.Len(t, all, int(numCounters))

	names := make(map[string]bool)
	for _, c := range all {
		assert.True(t, c.IsValid())
		name := c.String()
		assert.NotEmpty(t, name, "counter %d has no name", int(c))
		assert.False(t, names[name], "duplicate counter name %q", name)
		names[name] = true
	}

	assert.False(t, FetchCounter(-1).IsValid())
	assert.False(t, numCounters.IsValid())
	assert.Equal(t, "FetchCounter(99)", FetchCounter(99).String())
}

func TestMemoryCounters_Increment(t *testing.T) {
	m := NewMemoryCounters()
	m.Increment(UrlsAccepted, 2)
	m.Increment(UrlsAccepted, 3)
	m.Increment(DomainsFinished, 1)
	m.Increment(FetchCounter(42), 7) // ignored

	assert.Equal(t, int64(5), m.Get(UrlsAccepted))
	assert.Equal(t, int64(1), m.Get(DomainsFinished))
	assert.Equal(t, int64(0), m.Get(UrlsBlocked))
	assert.Equal(t, int64(0), m.Get(FetchCounter(42)))

	snap := m.Snapshot()
	assert.Len(t, snap, int(numCounters))
	assert.Equal(t, int64(5), snap["urls_accepted"])
}

func TestMemoryCounters_Concurrent(t *testing.T) {
	m := NewMemoryCounters()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Increment(UrlsBlocked, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(5000), m.Get(UrlsBlocked))
}

func TestMulti_FansOut(t *testing.T) {
	a, b := NewMemoryCounters(), NewMemoryCounters()
	sink := Multi(a, nil, b)
	sink.Increment(DomainsProcessing, 1)

	assert.Equal(t, int64(1), a.Get(DomainsProcessing))
	assert.Equal(t, int64(1), b.Get(DomainsProcessing))
	assert.NotPanics(t, func() { Discard.Increment(UrlsRejected, 1) })
}

func TestPrometheusCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheusCounters(reg)
	require.NoError(t, err)

	p.Increment(UrlsSkipped, 4)
	p.Increment(UrlsSkipped, -1) // ignored
	p.Increment(DomainsFailOpen, 1)

	assert.Equal(t, 4.0, testutil.ToFloat64(p.vec.WithLabelValues("urls_skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.vec.WithLabelValues("domains_fail_open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.vec.WithLabelValues("urls_accepted")))

	// Registering twice on the same registry is a configuration error
	_, err = NewPrometheusCounters(reg)
	assert.Error(t, err)
}

func TestHandler_ServesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheusCounters(reg)
	require.NoError(t, err)
	p.Increment(UrlsAccepted, 3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `crawl_scheduler_events_total{counter="urls_accepted"} 3`))
}

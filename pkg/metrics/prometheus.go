package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCounters exports the counter set as one CounterVec labelled by counter name
type PrometheusCounters struct {
	vec *prometheus.CounterVec
}

// NewPrometheusCounters registers the scheduler counters with reg
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler
func NewPrometheusCounters(reg prometheus.Registerer) (*PrometheusCounters, error) {
	vec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crawl_scheduler",
			Name:      "events_total",
			Help:      "Scheduling events, labelled by counter name.",
		},
		[]string{"counter"},
	)
	if err := reg.Register(vec); err != nil {
		return nil, err
	}
	// Pre-create every series so dashboards see zeros rather than gaps
	for _, c := range AllCounters() {
		vec.WithLabelValues(c.String())
	}
	return &PrometheusCounters{vec: vec}, nil
}

// Increment implements Counters. Prometheus counters cannot go down, so negative deltas are ignored
func (p *PrometheusCounters) Increment(c FetchCounter, delta int64) {
	if !c.IsValid() || delta <= 0 {
		return
	}
	p.vec.WithLabelValues(c.String()).Add(float64(delta))
}

// Handler returns an http.Handler serving the given gatherer in Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Requests        *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	OfflinePages    prometheus.Counter
	RefreshFailures prometheus.Counter
}

// NewMetrics creates and registers the strategy metrics. A nil registerer
// creates unregistered collectors, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strategy_requests_total",
			Help: "Requests dispatched to each fetch strategy.",
		}, []string{"strategy"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache hits per partition class.",
		}, []string{"partition"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Cache misses per partition class.",
		}, []string{"partition"}),
		OfflinePages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offline_pages_served_total",
			Help: "Times the offline document was served in place of content.",
		}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "background_refresh_failures_total",
			Help: "Background cache refreshes that failed.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Requests, m.CacheHits, m.CacheMisses, m.OfflinePages, m.RefreshFailures)
	}
	return m
}

package cache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	hitsVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livability_cache_hits_total",
		Help: "Total number of cache reads that returned a live entry",
	}, []string{"cache"})
	missesVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livability_cache_misses_total",
		Help: "Total number of cache reads that found no live entry",
	}, []string{"cache"})
	evictionsVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livability_cache_evictions_total",
		Help: "Total number of entries evicted to stay within capacity",
	}, []string{"cache"})
	expirationsVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livability_cache_expirations_total",
		Help: "Total number of expired entries purged on read",
	}, []string{"cache"})
	entriesVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livability_cache_entries",
		Help: "Current number of entries held, live or expired",
	}, []string{"cache"})
)

type metrics struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	evictions   prometheus.Counter
	expirations prometheus.Counter
	entries     prometheus.Gauge
}

// newMetrics binds the shared vectors to one cache name. The vectors are
// registered on reg once; several stores may share a registerer.
func newMetrics(name string, reg prometheus.Registerer) *metrics {
	if reg != nil {
		for _, c := range []prometheus.Collector{hitsVec, missesVec, evictionsVec, expirationsVec, entriesVec} {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					panic(err)
				}
			}
		}
	}
	return &metrics{
		hits:        hitsVec.WithLabelValues(name),
		misses:      missesVec.WithLabelValues(name),
		evictions:   evictionsVec.WithLabelValues(name),
		expirations: expirationsVec.WithLabelValues(name),
		entries:     entriesVec.WithLabelValues(name),
	}
}

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "constellation_cache_hits_total",
		Help: "Total number of answer cache hits",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "constellation_cache_misses_total",
		Help: "Total number of answer cache misses",
	})

	cachePurges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "constellation_cache_purges_total",
		Help: "Total number of names purged after record mutations",
	})
)

func init() {
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(cachePurges)
}

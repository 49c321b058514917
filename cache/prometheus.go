package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dns_cache_hits_total",
		Help: "Total number of DNS cache hits",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dns_cache_misses_total",
		Help: "Total number of DNS cache misses",
	})

	cacheInserts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dns_cache_inserts_total",
		Help: "Total number of responses stored in the DNS cache",
	})

	cacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dns_cache_store_errors_total",
		Help: "Total number of failed cache store operations",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(cacheInserts)
	prometheus.MustRegister(cacheErrors)
}

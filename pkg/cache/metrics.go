package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks category cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bina_category_cache_hits_total",
			Help: "Total number of category cache hits",
		},
	)

	// CacheMisses tracks category cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bina_category_cache_misses_total",
			Help: "Total number of category cache misses",
		},
	)

	// CacheEntries tracks entries held by live managers
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bina_category_cache_entries",
			Help: "Current number of cached category lookups",
		},
	)

	// CacheErrors tracks loads that failed
	CacheErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bina_category_cache_errors_total",
			Help: "Total number of category loads that failed and were not cached",
		},
	)
)

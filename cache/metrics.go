package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// lookups counts Get outcomes by domain and result (hit|miss|corrupt).
var lookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "farmcache",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by domain and result",
	},
	[]string{"domain", "result"},
)

package telemetry

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes Stats as Prometheus gauges, read at scrape time.
type Collector struct {
	l       log.Logger
	r       Repository
	timeout time.Duration

	entries *prometheus.Desc
	pending *prometheus.Desc
	up      *prometheus.Desc
}

// NewCollector initializes a new statistics collector
func NewCollector(l log.Logger, r Repository) *Collector {
	return &Collector{
		l:       l,
		r:       r,
		timeout: 5 * time.Second,
		entries: prometheus.NewDesc(
			"farmcache_cache_entries",
			"Live cache entries per domain",
			[]string{"domain"}, nil,
		),
		pending: prometheus.NewDesc(
			"farmcache_outbox_pending",
			"Outbox entries waiting to be replayed",
			nil, nil,
		),
		up: prometheus.NewDesc(
			"farmcache_store_up",
			"Whether the last statistics query succeeded",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.pending
	ch <- c.up
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	st, err := c.r.Stats(ctx)
	if err != nil {
		level.Warn(c.l).Log("msg", "collecting cache statistics", "err", err)
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.WeatherLive), "weather")
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.PriceLive), "price")
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.CalendarTotal), "calendar")
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(st.PendingSyncs))
}

// Package observability exposes engine and HTTP metrics to Prometheus.
//
// Engine counters are owned by each engine and read on scrape through
// EngineCollector, so there is a single source of truth and a metrics reset
// on an engine shows up as a counter reset in Prometheus.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alanyoungcy/propengine/internal/service"
)

const namespace = "propengine"

// Source lists per-exchange engine metrics.
type Source interface {
	AllMetrics() []service.ShardMetrics
}

// EngineCollector turns the per-exchange engine metrics into const metrics on
// every scrape.
type EngineCollector struct {
	src Source

	resolutions *prometheus.Desc
	cacheHits   *prometheus.Desc
	cacheMisses *prometheus.Desc
	traversals  *prometheus.Desc
	slowBatches *prometheus.Desc
	avgLatency  *prometheus.Desc
	hitRatio    *prometheus.Desc
	nodes       *prometheus.Desc
	cacheSize   *prometheus.Desc
}

// NewEngineCollector creates a collector over src.
func NewEngineCollector(src Source) *EngineCollector {
	labels := []string{"exchange"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", name), help, labels, nil)
	}
	return &EngineCollector{
		src:         src,
		resolutions: desc("resolutions_total", "Node resolutions, cache hits included."),
		cacheHits:   desc("cache_hits_total", "Resolutions served from the cache."),
		cacheMisses: desc("cache_misses_total", "Resolutions that walked the tree."),
		traversals:  desc("traversals_total", "Bulk resolution batches."),
		slowBatches: desc("slow_batches_total", "Bulk batches slower than the threshold."),
		avgLatency:  desc("resolution_latency_avg_seconds", "Rolling average resolution latency."),
		hitRatio:    desc("cache_hit_ratio", "Cache hits over resolutions."),
		nodes:       desc("nodes", "Nodes in the tree."),
		cacheSize:   desc("cache_entries", "Cached resolutions."),
	}
}

// Describe implements prometheus.Collector.
func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.resolutions, c.cacheHits, c.cacheMisses, c.traversals, c.slowBatches,
		c.avgLatency, c.hitRatio, c.nodes, c.cacheSize,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	for _, sm := range c.src.AllMetrics() {
		m := sm.Metrics
		ex := sm.ExchangeID
		ch <- prometheus.MustNewConstMetric(c.resolutions, prometheus.CounterValue, float64(m.Resolutions), ex)
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(m.CacheHits), ex)
		ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(m.CacheMisses), ex)
		ch <- prometheus.MustNewConstMetric(c.traversals, prometheus.CounterValue, float64(m.Traversals), ex)
		ch <- prometheus.MustNewConstMetric(c.slowBatches, prometheus.CounterValue, float64(m.SlowBatches), ex)
		ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, m.AvgResolutionLatency.Seconds(), ex)
		ch <- prometheus.MustNewConstMetric(c.hitRatio, prometheus.GaugeValue, m.CacheHitRatio, ex)
		ch <- prometheus.MustNewConstMetric(c.nodes, prometheus.GaugeValue, float64(sm.Nodes), ex)
		ch <- prometheus.MustNewConstMetric(c.cacheSize, prometheus.GaugeValue, float64(sm.CacheSize), ex)
	}
}

// HTTPMetrics counts and times API requests.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewHTTPMetrics creates the request metrics and registers them on reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.Requests, m.Duration)
	return m
}

// NewRegistry returns a registry holding the engine collector plus the Go
// and process collectors.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewEngineCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

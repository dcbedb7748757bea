// Package metrics exports execution statistics as prometheus series on a
// registry owned by the collector.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cryguy/nexo/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexo"

// Collector holds the runtime's prometheus metrics. It satisfies the
// pool.Observer interface.
type Collector struct {
	registry *prometheus.Registry
	handler  http.Handler

	executions  *prometheus.CounterVec
	duration    prometheus.Histogram
	memory      prometheus.Histogram
	concurrent  prometheus.Gauge
	maxPermits  prometheus.Gauge
	rejections  *prometheus.CounterVec
	httpReqs    *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
}

// NewCollector builds a collector for a pool with maxConcurrent permits.
func NewCollector(maxConcurrent int) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: registry,
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "executions_total",
			Help:      "Sandbox executions by outcome and error kind",
		}, []string{"outcome", "kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock time of sandbox executions",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		memory: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "execution_memory_bytes",
			Help:      "Heap in use at the end of successful executions",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 2, 12),
		}),
		concurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "current_concurrent",
			Help:      "Executions currently holding a permit",
		}),
		maxPermits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "max_concurrent",
			Help:      "Permits configured for the pool",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "rejections_total",
			Help:      "Requests rejected before execution",
		}, []string{"reason"}),
		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests processed",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	registry.MustRegister(
		c.executions, c.duration, c.memory, c.concurrent, c.maxPermits,
		c.rejections, c.httpReqs, c.httpLatency,
	)
	c.maxPermits.Set(float64(maxConcurrent))
	c.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return c
}

// ObserveExecution records one completed execution.
func (c *Collector) ObserveExecution(_ string, r *core.ExecutionResult) {
	outcome := "success"
	if !r.Success {
		outcome = "failure"
	}
	c.executions.WithLabelValues(outcome, r.ErrorKind.String()).Inc()
	c.duration.Observe(float64(r.ExecutionTimeMs) / 1000)
	if r.Success {
		c.memory.Observe(float64(r.MemoryUsedBytes))
	}
}

// SetConcurrent publishes the in-flight execution count.
func (c *Collector) SetConcurrent(n int) {
	c.concurrent.Set(float64(n))
}

// ObserveRejection counts a dispatch rejection.
func (c *Collector) ObserveRejection(kind core.DispatchKind) {
	c.rejections.WithLabelValues(rejectionReason(kind)).Inc()
}

// ObserveHTTP records one served HTTP request. route is the router
// template, not the raw path.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.httpReqs.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return c.handler
}

// Registry returns the underlying registry for custom metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func rejectionReason(kind core.DispatchKind) string {
	switch kind {
	case core.DispatchNotFound:
		return "not_found"
	case core.DispatchMethodNotAllowed:
		return "method_not_allowed"
	case core.DispatchInactive:
		return "inactive"
	case core.DispatchPayloadTooLarge:
		return "payload_too_large"
	}
	return "unknown"
}

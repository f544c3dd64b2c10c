package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the payroll service registry. It records HTTP traffic and
// calculation runs and implements the payroll run observer.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsActive   prometheus.Gauge
	lines        *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paycore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by status code",
		},
		[]string{"code"},
	)
	c.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paycore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"code"},
	)
	c.runsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paycore",
			Subsystem: "calculation",
			Name:      "runs_started_total",
			Help:      "Calculation runs started by calculation type",
		},
		[]string{"type"},
	)
	c.runsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paycore",
			Subsystem: "calculation",
			Name:      "runs_finished_total",
			Help:      "Calculation runs finished by type and terminal status",
		},
		[]string{"type", "status"},
	)
	c.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paycore",
			Subsystem: "calculation",
			Name:      "run_duration_seconds",
			Help:      "Wall time of calculation runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"type"},
	)
	c.runsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paycore",
		Subsystem: "calculation",
		Name:      "runs_active",
		Help:      "Calculation runs currently processing",
	})
	c.lines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paycore",
			Subsystem: "calculation",
			Name:      "lines_total",
			Help:      "Employee lines computed by outcome",
		},
		[]string{"status"},
	)

	c.registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		c.httpRequests,
		c.httpDuration,
		c.runsStarted,
		c.runsFinished,
		c.runDuration,
		c.runsActive,
		c.lines,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler exposes the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Record(status int, duration time.Duration) {
	code := strconv.Itoa(status)
	c.httpRequests.WithLabelValues(code).Inc()
	c.httpDuration.WithLabelValues(code).Observe(duration.Seconds())
}

func (c *Collector) RunStarted(calcType string) {
	c.runsStarted.WithLabelValues(calcType).Inc()
	c.runsActive.Inc()
}

func (c *Collector) RunFinished(calcType, status string, elapsed time.Duration) {
	c.runsActive.Dec()
	c.runsFinished.WithLabelValues(calcType, status).Inc()
	c.runDuration.WithLabelValues(calcType).Observe(elapsed.Seconds())
}

func (c *Collector) LineComputed(status string) {
	c.lines.WithLabelValues(status).Inc()
}

// prometheus.go - Prometheus exposition for scrapers
package main

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stealthpool/internal/pool"
)

// PromMetrics holds the daemon's Prometheus collectors on a private registry.
type PromMetrics struct {
	registry        *prometheus.Registry
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	operations      *prometheus.CounterVec
	poolLeaves      *prometheus.GaugeVec
	poolBalance     *prometheus.GaugeVec
}

// NewPromMetrics registers the collectors.
func NewPromMetrics() *PromMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &PromMetrics{
		registry: reg,
		requestCounter: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stealthpool",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "path", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stealthpool",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "path"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stealthpool",
			Subsystem: "pool",
			Name:      "operations_total",
			Help:      "Pool operations by outcome",
		}, []string{"op", "outcome"}),
		poolLeaves: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stealthpool",
			Subsystem: "pool",
			Name:      "leaves",
			Help:      "Commitments inserted per denomination",
		}, []string{"denomination"}),
		poolBalance: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stealthpool",
			Subsystem: "pool",
			Name:      "deposited_minus_withdrawn",
			Help:      "Lamports held per denomination",
		}, []string{"denomination"}),
	}
}

// Middleware records request counts and latency by route.
func (m *PromMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		m.requestCounter.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// Operation counts one pool operation outcome.
func (m *PromMetrics) Operation(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = pool.Classify(err).String()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// ObservePool updates the per-denomination gauges.
func (m *PromMetrics) ObservePool(s pool.Stats) {
	d := strconv.FormatUint(s.Denomination, 10)
	m.poolLeaves.WithLabelValues(d).Set(float64(s.Leaves))
	m.poolBalance.WithLabelValues(d).Set(float64(s.TotalDeposited - s.TotalWithdrawn))
}

// Handler serves the exposition format.
func (m *PromMetrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

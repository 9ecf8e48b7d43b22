// metrics.go - Metrics collection for the pool daemon
package main

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"stealthpool/internal/pool"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

const histogramWindow = 1000

// Metric represents a single metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// MetricsCollector manages metrics collection
type MetricsCollector struct {
	mu         sync.RWMutex
	metrics    map[string]*Metric
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:    make(map[string]*Metric),
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter increments a counter metric
func (mc *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	mc.counters[key]++
	mc.updateMetric(key, name, Counter, float64(mc.counters[key]), labels)
}

// SetGauge sets a gauge metric value
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	mc.gauges[key] = value
	mc.updateMetric(key, name, Gauge, value, labels)
}

// RecordHistogram records a value in a histogram
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	h := append(mc.histograms[key], value)
	if len(h) > histogramWindow {
		h = h[len(h)-histogramWindow:]
	}
	mc.histograms[key] = h
	mc.updateMetric(key, name, Histogram, value, labels)
}

// GetMetric retrieves a metric by name and labels
func (mc *MetricsCollector) GetMetric(name string, labels map[string]string) *Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	m, ok := mc.metrics[makeKey(name, labels)]
	if !ok {
		return nil
	}
	out := *m
	return &out
}

// GetMetricsSummary returns a summary of all metrics
func (mc *MetricsCollector) GetMetricsSummary() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	counters := make(map[string]int64, len(mc.counters))
	for key, v := range mc.counters {
		counters[key] = v
	}
	gauges := make(map[string]float64, len(mc.gauges))
	for key, v := range mc.gauges {
		gauges[key] = v
	}

	histograms := make(map[string]map[string]float64)
	for key, values := range mc.histograms {
		if len(values) == 0 {
			continue
		}
		h := map[string]float64{
			"count": float64(len(values)),
			"min":   values[0],
			"max":   values[0],
		}
		var sum float64
		for _, v := range values {
			if v < h["min"] {
				h["min"] = v
			}
			if v > h["max"] {
				h["max"] = v
			}
			sum += v
		}
		h["sum"] = sum
		h["avg"] = sum / h["count"]
		histograms[key] = h
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// Reset resets all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
	mc.counters = make(map[string]int64)
	mc.gauges = make(map[string]float64)
	mc.histograms = make(map[string][]float64)
}

// makeKey creates a deterministic key for a metric name and labels
func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("_")
		b.WriteString(k)
		b.WriteString("_")
		b.WriteString(labels[k])
	}
	return b.String()
}

func (mc *MetricsCollector) updateMetric(key, name string, metricType MetricType, value float64, labels map[string]string) {
	mc.metrics[key] = &Metric{
		Name:      name,
		Type:      metricType,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Predefined metric names
const (
	MetricDepositCount       = "deposit_count"
	MetricWithdrawalCount    = "withdrawal_count"
	MetricRejectionCount     = "rejection_count"
	MetricReplayCount        = "replay_rejection_count"
	MetricProofVerifyTime    = "proof_verify_seconds"
	MetricTreeLeaves         = "tree_leaves"
	MetricTreeFill           = "tree_fill_ratio"
	MetricCommitmentCount    = "commitment_count"
	MetricAnnouncementsRelay = "announcements_relayed"
	MetricHTTPRequests       = "http_requests"
	MetricRateLimited        = "rate_limited"
)

func denomLabel(d uint64) map[string]string {
	return map[string]string{"denomination": strconv.FormatUint(d, 10)}
}

// Convenience methods for common metrics
func (mc *MetricsCollector) RecordDeposit(denomination uint64) {
	mc.IncrementCounter(MetricDepositCount, denomLabel(denomination))
}

func (mc *MetricsCollector) RecordWithdrawal(denomination uint64, stealth bool) {
	mc.IncrementCounter(MetricWithdrawalCount, map[string]string{
		"denomination": strconv.FormatUint(denomination, 10),
		"stealth":      strconv.FormatBool(stealth),
	})
}

// RecordRejection counts a failed operation by error kind.
func (mc *MetricsCollector) RecordRejection(op string, err error) {
	kind := pool.Classify(err)
	mc.IncrementCounter(MetricRejectionCount, map[string]string{"op": op, "kind": kind.String()})
	if pool.IsReplay(err) {
		mc.IncrementCounter(MetricReplayCount, nil)
	}
}

func (mc *MetricsCollector) RecordProofVerification(duration time.Duration, ok bool) {
	mc.RecordHistogram(MetricProofVerifyTime, duration.Seconds(), map[string]string{"valid": strconv.FormatBool(ok)})
}

// RecordPoolStats updates the tree gauges of one pool.
func (mc *MetricsCollector) RecordPoolStats(s pool.Stats) {
	mc.SetGauge(MetricTreeLeaves, float64(s.Leaves), denomLabel(s.Denomination))
	if s.Capacity > 0 {
		mc.SetGauge(MetricTreeFill, float64(s.Leaves)/float64(s.Capacity), denomLabel(s.Denomination))
	}
}

func (mc *MetricsCollector) RecordRequest(path string, status int) {
	mc.IncrementCounter(MetricHTTPRequests, map[string]string{"path": path, "status": strconv.Itoa(status)})
}

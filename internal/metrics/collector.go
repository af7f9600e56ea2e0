// Package metrics provides run metrics collection and aggregation.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"
)

const (
	namespace = "vismet"
	pushJob   = "visual_metrics"
)

// Collector interface for metrics collection
type Collector interface {
	Start(ctx context.Context) error
	Stop() error
	RecordBaselineLoad(metric BaselineLoadMetric)
	RecordJobResult(metric *JobResultMetric)
	GetBaselineMetrics() []BaselineLoadMetric
	GetJobMetrics() []JobResultMetric
	GetSummary() SummaryMetric
	// Push sends the run's counters to a Prometheus pushgateway.
	Push(ctx context.Context, url string, grouping map[string]string) error
}

// collector implements Collector interface
type collector struct {
	log             logrus.FieldLogger
	mu              sync.RWMutex
	baselineMetrics []BaselineLoadMetric
	jobMetrics      []JobResultMetric
	startTime       time.Time

	registry      *prometheus.Registry
	jobsTotal     *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	baselineLoads *prometheus.CounterVec
}

// NewCollector creates a new metrics collector backed by a private registry.
func NewCollector(log logrus.FieldLogger) Collector {
	c := &collector{
		log:             log.WithField("component", "metrics_collector"),
		baselineMetrics: make([]BaselineLoadMetric, 0, 4),
		jobMetrics:      make([]JobResultMetric, 0, 64),
		registry:        prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Metrics tool invocations by result.",
		}, []string{"result"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock time of metrics tool invocations.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		baselineLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "baseline_loads_total",
			Help:      "Baseline bundle loads by source.",
		}, []string{"source"}),
	}

	c.registry.MustRegister(c.jobsTotal, c.jobDuration, c.baselineLoads)

	return c
}

func (c *collector) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()

	c.log.Debug("metrics collector started")

	return nil
}

func (c *collector) Stop() error {
	c.log.Debug("metrics collector stopped")

	return nil
}

func (c *collector) RecordBaselineLoad(metric BaselineLoadMetric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baselineMetrics = append(c.baselineMetrics, metric)
	c.baselineLoads.WithLabelValues(string(metric.Source)).Inc()
}

func (c *collector) RecordJobResult(metric *JobResultMetric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobMetrics = append(c.jobMetrics, *metric)

	result := "success"
	if !metric.Passed {
		result = "failure"
	}
	c.jobsTotal.WithLabelValues(result).Inc()
	c.jobDuration.Observe(metric.Duration.Seconds())
}

func (c *collector) GetBaselineMetrics() []BaselineLoadMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	// Return copy to avoid race conditions
	result := make([]BaselineLoadMetric, len(c.baselineMetrics))
	copy(result, c.baselineMetrics)
	return result
}

func (c *collector) GetJobMetrics() []JobResultMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]JobResultMetric, len(c.jobMetrics))
	copy(result, c.jobMetrics)
	return result
}

func (c *collector) GetSummary() SummaryMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totalDuration := time.Since(c.startTime)
	cacheHits := 0
	cacheMisses := 0
	totalSize := int64(0)

	for _, bm := range c.baselineMetrics {
		if bm.Source == SourceCache {
			cacheHits++
		} else {
			cacheMisses++
		}
		totalSize += bm.SizeBytes
	}

	passed := 0
	failed := 0
	for _, jm := range c.jobMetrics {
		if jm.Passed {
			passed++
		} else {
			failed++
		}
	}

	cacheHitRate := 0.0
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = float64(cacheHits) / float64(cacheHits+cacheMisses) * 100.0
	}

	return SummaryMetric{
		TotalDuration: totalDuration,
		TotalJobs:     len(c.jobMetrics),
		PassedJobs:    passed,
		FailedJobs:    failed,
		CacheHits:     cacheHits,
		CacheMisses:   cacheMisses,
		CacheHitRate:  cacheHitRate,
		TotalDataSize: totalSize,
	}
}

func (c *collector) Push(ctx context.Context, url string, grouping map[string]string) error {
	pusher := push.New(url, pushJob).Gatherer(c.registry)
	for name, value := range grouping {
		if value != "" {
			pusher = pusher.Grouping(name, value)
		}
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}

	c.log.WithField("url", url).Debug("pushed metrics")

	return nil
}

// Compile-time interface compliance check
var _ Collector = (*collector)(nil)

// Package metrics holds the Prometheus collectors shared by the phonedesk services.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "phonedesk"

// Collectors groups every phonedesk collector.
type Collectors struct {
	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	events          *prometheus.CounterVec
	eventRetries    prometheus.Counter
	eventQueueDepth prometheus.Gauge
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

var (
	globalOnce sync.Once
	globalInst *Collectors
)

// Global returns the collectors registered with the default registry.
func Global() *Collectors {
	globalOnce.Do(func() {
		globalInst = New(promauto.With(prometheus.DefaultRegisterer))
	})
	return globalInst
}

// New registers a fresh set of collectors through factory. Tests pass a
// factory over a private registry.
func New(factory promauto.Factory) *Collectors {
	return &Collectors{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "operations_total",
			Help:      "Command operations executed, labeled by operation and result kind",
		}, []string{"operation", "result"}),
		operationTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "operation_duration_seconds",
			Help:      "Duration of command operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events delivered to publishers, labeled by type and result",
		}, []string{"type", "result"}),
		eventRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "retries_total",
			Help:      "Event delivery retries",
		}),
		eventQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Events waiting in the dispatcher queue",
		}),
		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduler job executions, labeled by handler and status",
		}, []string{"handler", "status"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduler jobs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
	}
}

// ObserveOperation starts timing op. The returned func records the result
// kind ("ok" for success).
func (c *Collectors) ObserveOperation(op string) func(result string) {
	if c == nil {
		return func(string) {}
	}
	start := time.Now()
	return func(result string) {
		c.operationTime.WithLabelValues(op).Observe(time.Since(start).Seconds())
		c.operations.WithLabelValues(op, result).Inc()
	}
}

// EventPublished counts a delivery attempt outcome.
func (c *Collectors) EventPublished(eventType string, ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	c.events.WithLabelValues(eventType, result).Inc()
}

// EventRetried counts one redelivery.
func (c *Collectors) EventRetried() {
	if c == nil {
		return
	}
	c.eventRetries.Inc()
}

// SetQueueDepth records the dispatcher backlog.
func (c *Collectors) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.eventQueueDepth.Set(float64(n))
}

// RecordJob starts timing a scheduler job run.
func (c *Collectors) RecordJob(handler string) func(err error) {
	if c == nil {
		return func(error) {}
	}
	timer := prometheus.NewTimer(c.jobDuration.WithLabelValues(handler))
	return func(err error) {
		timer.ObserveDuration()
		status := "success"
		if err != nil {
			status = "failure"
		}
		c.jobRuns.WithLabelValues(handler, status).Inc()
	}
}

package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type sweepMetrics struct {
	runs      *prometheus.CounterVec
	affected  *prometheus.CounterVec
	lastCount *prometheus.GaugeVec
	durations *prometheus.HistogramVec
}

var (
	sweepMetricsOnce sync.Once
	sweepMetricsInst *sweepMetrics
)

func globalSweepMetrics() *sweepMetrics {
	sweepMetricsOnce.Do(func() {
		sweepMetricsInst = newSweepMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return sweepMetricsInst
}

func newSweepMetrics(factory promauto.Factory) *sweepMetrics {
	return &sweepMetrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phonedesk",
			Subsystem: "scheduler",
			Name:      "sweep_runs_total",
			Help:      "Total sweep executions, labeled by handler",
		}, []string{"handler"}),
		affected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phonedesk",
			Subsystem: "scheduler",
			Name:      "sweep_affected_total",
			Help:      "Assets flagged or tasks reminded by sweeps, labeled by handler",
		}, []string{"handler"}),
		lastCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "phonedesk",
			Subsystem: "scheduler",
			Name:      "sweep_last_affected",
			Help:      "Entities affected by the latest sweep run",
		}, []string{"handler"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "phonedesk",
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
	}
}

func (m *sweepMetrics) recordRun(handler string) func() {
	if m == nil {
		return func() {}
	}
	m.runs.WithLabelValues(handler).Inc()
	timer := prometheus.NewTimer(m.durations.WithLabelValues(handler))
	return func() {
		timer.ObserveDuration()
	}
}

func (m *sweepMetrics) recordAffected(handler string, n int) {
	if m == nil {
		return
	}
	m.affected.WithLabelValues(handler).Add(float64(n))
	m.lastCount.WithLabelValues(handler).Set(float64(n))
}

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the metric family name whose labels include all of want.
func sample(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(promauto.With(reg))

	c.ObserveOperation("assign")("ok")
	c.ObserveOperation("assign")("invalid_state")
	assert.Equal(t, 1.0, sample(t, reg, "phonedesk_core_operations_total", map[string]string{"operation": "assign", "result": "ok"}))
	assert.Equal(t, 1.0, sample(t, reg, "phonedesk_core_operations_total", map[string]string{"operation": "assign", "result": "invalid_state"}))

	c.EventPublished("transfer.initiated", true)
	c.EventPublished("transfer.initiated", false)
	c.EventRetried()
	assert.Equal(t, 1.0, sample(t, reg, "phonedesk_events_published_total", map[string]string{"type": "transfer.initiated", "result": "failure"}))
	assert.Equal(t, 1.0, sample(t, reg, "phonedesk_events_retries_total", nil))

	c.SetQueueDepth(3)
	assert.Equal(t, 3.0, sample(t, reg, "phonedesk_events_queue_depth", nil))

	c.RecordJob("asset.riskSweep")(errors.New("boom"))
	assert.Equal(t, 1.0, sample(t, reg, "phonedesk_scheduler_job_runs_total", map[string]string{"handler": "asset.riskSweep", "status": "failure"}))
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.ObserveOperation("x")("ok")
		c.EventPublished("x", true)
		c.EventRetried()
		c.SetQueueDepth(1)
		c.RecordJob("x")(nil)
	})
}

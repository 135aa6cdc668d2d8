package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/nancy-core/nancy/pkg/brains"
)

func TestObserveBrainHealth(t *testing.T) {
	m := New()
	m.ObserveBrainHealth(brains.BrainVector, brains.Health{Status: "healthy"})
	m.ObserveBrainHealth(brains.BrainGraph, brains.Health{Status: "degraded"})
	m.ObserveBrainHealth(brains.BrainLLM, brains.Health{Status: "unhealthy"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BrainHealth.WithLabelValues(brains.BrainVector)))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.BrainHealth.WithLabelValues(brains.BrainGraph)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BrainHealth.WithLabelValues(brains.BrainLLM)))
}

func TestOverall(t *testing.T) {
	tests := []struct {
		name    string
		healths map[string]brains.Health
		want    string
	}{
		{"all healthy", map[string]brains.Health{
			"vector": {Status: "healthy"}, "graph": {Status: "healthy"},
		}, "healthy"},
		{"one degraded", map[string]brains.Health{
			"vector": {Status: "healthy"}, "graph": {Status: "degraded"},
		}, "degraded"},
		{"unhealthy brain with a healthy peer degrades", map[string]brains.Health{
			"vector": {Status: "healthy"}, "graph": {Status: "unhealthy"},
		}, "degraded"},
		{"no healthy brain left", map[string]brains.Health{
			"vector": {Status: "degraded"}, "graph": {Status: "unhealthy"},
		}, "unhealthy"},
		{"all unhealthy", map[string]brains.Health{
			"vector": {Status: "unhealthy"}, "graph": {Status: "unhealthy"},
		}, "unhealthy"},
		{"empty is healthy", nil, "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overall(tt.healths))
		})
	}
}

func TestCountersRegister(t *testing.T) {
	m := New()
	m.PacketsIngested.WithLabelValues(brains.BrainVector, "complete").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsIngested.WithLabelValues(brains.BrainVector, "complete")))

	m.PacketsReceived.Inc()
	m.PacketOutcomes.WithLabelValues("skipped_duplicate").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketOutcomes.WithLabelValues("skipped_duplicate")))

	m.InFlightQueries.Inc()
	m.InFlightQueries.Dec()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlightQueries))

	m.MCPServersHealthy.Set(1)
	m.MCPServersTotal.Set(2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MCPServersHealthy))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MCPServersTotal))
}

func TestBrainObservations(t *testing.T) {
	m := New()
	m.ObserveBrainWrite(brains.BrainGraph, 0.02)
	m.ObserveBrainWrite(brains.BrainGraph, 0.04)
	m.ObserveBrainRead(brains.BrainVector, 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BrainWrites.WithLabelValues(brains.BrainGraph)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BrainReads.WithLabelValues(brains.BrainVector)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BrainWrites.WithLabelValues(brains.BrainVector)))
}

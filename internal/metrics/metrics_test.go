package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakemic/internal/domain"
)

func TestCollectorsRecordControllerActivity(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := New(reg)

	c.Activation()
	c.Activation()
	c.Capture(domain.CaptureOutcomeCommand, 3*time.Second)
	c.Capture(domain.CaptureOutcomeCanceled, 0)
	c.ListenerRestart()
	c.SetState(domain.StateProcessing)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Activations))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Captures.WithLabelValues("command")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Captures.WithLabelValues("canceled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ListenerRestarts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.State.WithLabelValues("processing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.State.WithLabelValues("idle")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "wakemic_capture_duration_seconds")
}

func TestNilCollectorsAreNoOps(t *testing.T) {
	t.Parallel()

	var c *Collectors
	assert.NotPanics(t, func() {
		c.Activation()
		c.Capture(domain.CaptureOutcomeFailed, time.Second)
		c.ListenerRestart()
		c.SetState(domain.StateIdle)
	})
}

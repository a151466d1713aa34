// Package metrics exposes wake-word controller activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"wakemic/internal/domain"
)

var states = []domain.State{
	domain.StateIdle,
	domain.StateActivated,
	domain.StateProcessing,
	domain.StateSpeaking,
}

// Collectors holds the controller metrics. A nil *Collectors records nothing.
type Collectors struct {
	Activations      prometheus.Counter
	Captures         *prometheus.CounterVec
	CaptureDuration  prometheus.Histogram
	ListenerRestarts prometheus.Counter
	State            *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		Activations: factory.NewCounter(prometheus.CounterOpts{
			Name: "wakemic_activations_total",
			Help: "Total number of wake phrase matches",
		}),
		Captures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wakemic_captures_total",
				Help: "Total number of finished command captures by outcome",
			},
			[]string{"outcome"},
		),
		CaptureDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wakemic_capture_duration_seconds",
			Help:    "Time from capture open to stop",
			Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10, 15, 20},
		}),
		ListenerRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "wakemic_listener_restarts_total",
			Help: "Total number of continuous listener restarts after the stream ended",
		}),
		State: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wakemic_state",
				Help: "1 for the current controller state, 0 otherwise",
			},
			[]string{"state"},
		),
	}
}

func (c *Collectors) Activation() {
	if c == nil {
		return
	}
	c.Activations.Inc()
}

// Capture records a finished capture. A zero duration skips the histogram.
func (c *Collectors) Capture(outcome domain.CaptureOutcome, d time.Duration) {
	if c == nil {
		return
	}
	c.Captures.WithLabelValues(string(outcome)).Inc()
	if d > 0 {
		c.CaptureDuration.Observe(d.Seconds())
	}
}

func (c *Collectors) ListenerRestart() {
	if c == nil {
		return
	}
	c.ListenerRestarts.Inc()
}

func (c *Collectors) SetState(current domain.State) {
	if c == nil {
		return
	}
	for _, s := range states {
		value := 0.0
		if s == current {
			value = 1
		}
		c.State.WithLabelValues(string(s)).Set(value)
	}
}

package sinks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	ua "github.com/panyam/userauth"
)

// MetricsSink counts events by kind
type MetricsSink struct {
	events *prometheus.CounterVec
}

// NewMetricsSink registers userauth_events_total on reg and pre-creates a
// series for every event kind.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	s := &MetricsSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userauth_events_total",
			Help: "Authentication events emitted, by kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(s.events)
	for _, k := range ua.AllEventKinds() {
		s.events.WithLabelValues(k.String())
	}
	return s
}

func (s *MetricsSink) HandleEvent(_ context.Context, ev ua.Event) error {
	s.events.WithLabelValues(ev.Kind.String()).Inc()
	return nil
}

// Package metrics exports pipeline counters via Prometheus. The Tap is a
// plain bus subscriber: it emits no activity deltas of its own, so it can
// never perturb the quiescence decision.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BJSummerfield/zendesk-export-v2/internal/bus"
	"github.com/BJSummerfield/zendesk-export-v2/internal/event"
)

// Tap observes every bus event and maintains the Prometheus collectors.
type Tap struct {
	sub    *bus.Subscription
	logger *zap.Logger

	eventsTotal   *prometheus.CounterVec
	fetchFailures prometheus.Counter
	lagSkips      prometheus.Counter
	activeTasks   *prometheus.GaugeVec
}

// NewTap registers the collectors against reg and subscribes to the bus.
func NewTap(reg prometheus.Registerer, b *bus.Bus, logger *zap.Logger) (*Tap, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tap{
		sub:    b.Subscribe(),
		logger: logger,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "export_bus_events_total",
			Help: "Bus events observed, partitioned by event type.",
		}, []string{"type"}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "export_fetch_failures_total",
			Help: "Fetch responses carrying a transport or decode error.",
		}),
		lagSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "export_bus_lag_skipped_total",
			Help: "Events the metrics subscription skipped after falling behind.",
		}),
		activeTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "export_active_tasks",
			Help: "In-flight units of work per service, folded from activity deltas.",
		}, []string{"service"}),
	}
	for _, c := range []prometheus.Collector{t.eventsTotal, t.fetchFailures, t.lagSkips, t.activeTasks} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register export collector: %w", err)
		}
	}
	return t, nil
}

// Run consumes events until Shutdown or bus close.
func (t *Tap) Run(ctx context.Context) error {
	for {
		evt, err := t.sub.Receive(ctx)
		if err != nil {
			var lag *bus.LagError
			switch {
			case errors.As(err, &lag):
				t.lagSkips.Add(float64(lag.Skipped))
				t.logger.Warn("metrics tap fell behind", zap.Uint64("skipped", lag.Skipped))
				continue
			case errors.Is(err, bus.ErrClosed):
				return nil
			default:
				return err
			}
		}
		t.eventsTotal.WithLabelValues(event.Kind(evt)).Inc()
		switch e := evt.(type) {
		case event.FetchResponse:
			if e.Err != "" {
				t.fetchFailures.Inc()
			}
		case event.ActivityDelta:
			gauge := t.activeTasks.WithLabelValues(string(e.Service))
			if e.Direction == event.DirectionIncrement {
				gauge.Inc()
			} else {
				gauge.Dec()
			}
		case event.Shutdown:
			return nil
		}
	}
}

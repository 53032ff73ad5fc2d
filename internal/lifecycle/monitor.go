// Package lifecycle tracks per-service activity counters and decides when
// the pipeline has gone quiet. Quiescence is inferred from the absence of
// in-flight work across every tracked service, not from an expected message
// count, because pagination makes the total amount of work unknowable up
// front.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BJSummerfield/zendesk-export-v2/internal/bus"
	"github.com/BJSummerfield/zendesk-export-v2/internal/event"
)

// Phase is the coarse liveness state of one tracked service.
type Phase string

// Phase values. Initialized is never re-entered once a service has seen its
// first increment.
const (
	PhaseInitialized Phase = "initialized"
	PhaseActive      Phase = "active"
	PhaseInactive    Phase = "inactive"
)

// ServiceStatus is a point-in-time copy of one service's tracked state.
type ServiceStatus struct {
	Service     event.Service `json:"service"`
	ActiveCount int           `json:"active_count"`
	Phase       Phase         `json:"phase"`
}

type serviceState struct {
	mu    sync.Mutex
	count int
	phase Phase
	// pending counts work the bus has already promised this service (a
	// request or response it will pick up) whose increment has not been
	// observed yet. It bridges the gap between a producer's decrement and
	// the consumer's increment for the same causal chain.
	pending int
}

// applyDelta folds one activity delta into the state and returns the
// resulting status. Underflow is clamped and reported so a lag-induced lost
// increment shows up in logs instead of wrapping the counter.
func (s *serviceState) applyDelta(dir event.Direction) (ServiceStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	underflow := false
	switch dir {
	case event.DirectionIncrement:
		s.count++
		if s.pending > 0 {
			s.pending--
		}
		if s.count == 1 {
			s.phase = PhaseActive
		}
	case event.DirectionDecrement:
		if s.count == 0 {
			underflow = true
			break
		}
		s.count--
		if s.count == 0 {
			s.phase = PhaseInactive
		}
	}
	return ServiceStatus{ActiveCount: s.count, Phase: s.phase}, underflow
}

func (s *serviceState) addPending() {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
}

func (s *serviceState) quiet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count == 0 && s.pending == 0
}

func (s *serviceState) status() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServiceStatus{ActiveCount: s.count, Phase: s.phase}
}

// Monitor consumes bus events and broadcasts Shutdown exactly once, after
// every tracked service has returned to zero in-flight work with nothing
// promised to it still on the bus.
type Monitor struct {
	bus          *bus.Bus
	sub          *bus.Subscription
	states       map[event.Service]*serviceState
	order        []event.Service
	shutdownSent atomic.Bool
	logger       *zap.Logger
}

// NewMonitor subscribes to the bus immediately so no event published after
// construction can be missed.
func NewMonitor(b *bus.Bus, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	tracked := []event.Service{event.ServiceFetcher, event.ServiceCategories, event.ServiceFileWriter}
	states := make(map[event.Service]*serviceState, len(tracked))
	for _, svc := range tracked {
		states[svc] = &serviceState{phase: PhaseInitialized}
	}
	return &Monitor{
		bus:    b,
		sub:    b.Subscribe(),
		states: states,
		order:  tracked,
		logger: logger,
	}
}

// Run processes events until Shutdown is observed, the bus closes, or ctx
// ends. Lag faults are non-fatal: the monitor logs the skip and resumes,
// accepting that its counters may have desynchronized.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		evt, err := m.sub.Receive(ctx)
		if err != nil {
			var lag *bus.LagError
			switch {
			case errors.As(err, &lag):
				m.logger.Warn("monitor lagged, counters may be desynchronized",
					zap.Uint64("skipped", lag.Skipped))
				continue
			case errors.Is(err, bus.ErrClosed):
				return nil
			default:
				return err
			}
		}
		switch e := evt.(type) {
		case event.ActivityDelta:
			m.applyDelta(e)
		case event.FetchRequest:
			m.states[event.ServiceFetcher].addPending()
		case event.FetchResponse:
			// An error response is terminal: the category service only
			// logs it, so it creates no pending work.
			if e.Err == "" {
				m.states[event.ServiceCategories].addPending()
			}
		case event.FileRequest:
			m.states[event.ServiceFileWriter].addPending()
		case event.Shutdown:
			m.logger.Info("monitor shutting down")
			return nil
		}
	}
}

func (m *Monitor) applyDelta(delta event.ActivityDelta) {
	state, ok := m.states[delta.Service]
	if !ok {
		m.logger.Error("activity delta for untracked service",
			zap.String("service", string(delta.Service)))
		return
	}
	status, underflow := state.applyDelta(delta.Direction)
	if underflow {
		m.logger.Error("activity counter underflow",
			zap.String("service", string(delta.Service)))
		return
	}
	m.logger.Debug("activity delta applied",
		zap.String("service", string(delta.Service)),
		zap.String("direction", string(delta.Direction)),
		zap.Int("active", status.ActiveCount))

	if m.quiescent() && m.shutdownSent.CompareAndSwap(false, true) {
		m.logger.Info("pipeline quiescent, broadcasting shutdown")
		m.bus.Publish(event.Shutdown{})
	}
}

// quiescent is the global predicate, evaluated after each applied delta.
// Every tracked service counts. A service that was never activated is quiet
// as long as nothing on the bus is still promised to it, so a run that
// writes no files can still shut down.
func (m *Monitor) quiescent() bool {
	for _, svc := range m.order {
		if !m.states[svc].quiet() {
			return false
		}
	}
	return true
}

// Snapshot reports the current status of every tracked service, in a stable
// order. Used by the debug server's /status endpoint.
func (m *Monitor) Snapshot() []ServiceStatus {
	out := make([]ServiceStatus, 0, len(m.order))
	for _, svc := range m.order {
		status := m.states[svc].status()
		status.Service = svc
		out = append(out, status)
	}
	return out
}

// ShutdownSent reports whether the monitor has already broadcast Shutdown.
func (m *Monitor) ShutdownSent() bool {
	return m.shutdownSent.Load()
}

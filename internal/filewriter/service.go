// Package filewriter consumes file-write requests and materializes them on
// disk. Write failures are logged and never stop the service loop.
package filewriter

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BJSummerfield/zendesk-export-v2/internal/bus"
	"github.com/BJSummerfield/zendesk-export-v2/internal/event"
)

// Summary is the writer's view of the run.
type Summary struct {
	Written  int
	Failures int
}

// Service consumes FileRequest events from its bus subscription.
type Service struct {
	bus    *bus.Bus
	sub    *bus.Subscription
	sink   *Sink
	logger *zap.Logger

	mu      sync.Mutex
	summary Summary
}

// New subscribes to the bus immediately so file requests published before
// Run starts are not lost.
func New(b *bus.Bus, sink *Sink, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		bus:    b,
		sub:    b.Subscribe(),
		sink:   sink,
		logger: logger,
	}
}

// Run consumes events until Shutdown. Each request is bracketed by exactly
// one increment/decrement pair regardless of write outcome.
func (s *Service) Run(ctx context.Context) error {
	for {
		evt, err := s.sub.Receive(ctx)
		if err != nil {
			var lag *bus.LagError
			switch {
			case errors.As(err, &lag):
				s.logger.Warn("filewriter lagged", zap.Uint64("skipped", lag.Skipped))
				continue
			case errors.Is(err, bus.ErrClosed):
				return nil
			default:
				return err
			}
		}
		switch e := evt.(type) {
		case event.FileRequest:
			s.bus.Publish(event.Increment(event.ServiceFileWriter))
			s.write(e)
			s.bus.Publish(event.Decrement(event.ServiceFileWriter))
		case event.Shutdown:
			summary := s.Summary()
			s.logger.Info("filewriter shutting down",
				zap.Int("written", summary.Written),
				zap.Int("failures", summary.Failures))
			return nil
		}
	}
}

func (s *Service) write(req event.FileRequest) {
	if err := s.sink.Write(req.Path, req.Data); err != nil {
		s.logger.Error("file write failed",
			zap.String("path", req.Path),
			zap.String("kind", string(req.Kind)),
			zap.Error(err))
		s.mu.Lock()
		s.summary.Failures++
		s.mu.Unlock()
		return
	}
	s.logger.Debug("file written", zap.String("path", req.Path))
	s.mu.Lock()
	s.summary.Written++
	s.mu.Unlock()
}

// Summary returns the run counters accumulated so far.
func (s *Service) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

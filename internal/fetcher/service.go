// Package fetcher turns fetch-request events into HTTP calls and republishes
// the outcomes as response events.
package fetcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BJSummerfield/zendesk-export-v2/internal/bus"
	"github.com/BJSummerfield/zendesk-export-v2/internal/event"
	"github.com/BJSummerfield/zendesk-export-v2/internal/zendesk"
)

// Client is the HTTP collaborator: it returns the raw response body for one
// help-center page. *zendesk.Client satisfies it.
type Client interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Service consumes FetchRequest events. Each request runs as its own
// goroutine so a slow or failed call never blocks consumption of further
// requests; there is no cap on in-flight fetches.
type Service struct {
	bus    *bus.Bus
	sub    *bus.Subscription
	client Client
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New subscribes to the bus immediately so requests published before Run
// starts are not lost.
func New(b *bus.Bus, client Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		bus:    b,
		sub:    b.Subscribe(),
		client: client,
		logger: logger,
	}
}

// Run consumes events until Shutdown. In-flight fetches started before
// Shutdown are waited for, not aborted; their late responses land on a bus
// whose remaining subscribers may already be gone, which is fine.
func (s *Service) Run(ctx context.Context) error {
	defer s.wg.Wait()
	for {
		evt, err := s.sub.Receive(ctx)
		if err != nil {
			var lag *bus.LagError
			switch {
			case errors.As(err, &lag):
				s.logger.Warn("fetcher lagged", zap.Uint64("skipped", lag.Skipped))
				continue
			case errors.Is(err, bus.ErrClosed):
				return nil
			default:
				return err
			}
		}
		switch e := evt.(type) {
		case event.FetchRequest:
			s.bus.Publish(event.Increment(event.ServiceFetcher))
			s.wg.Add(1)
			go s.fetch(ctx, e.URL)
		case event.Shutdown:
			s.logger.Info("fetcher shutting down")
			return nil
		}
	}
}

// fetch performs one HTTP call plus decode, publishing exactly one response
// event and exactly one decrement on every exit path.
func (s *Service) fetch(ctx context.Context, url string) {
	defer s.wg.Done()
	defer s.bus.Publish(event.Decrement(event.ServiceFetcher))

	body, err := s.client.Fetch(ctx, url)
	if err != nil {
		s.logger.Warn("fetch failed", zap.String("url", url), zap.Error(err))
		s.bus.Publish(event.FetchResponse{Err: err.Error()})
		return
	}
	page, err := zendesk.DecodeCategoryPage(body)
	if err != nil {
		s.logger.Warn("response did not match expected category page",
			zap.String("url", url), zap.Error(err))
		s.bus.Publish(event.FetchResponse{Err: err.Error()})
		return
	}
	s.logger.Debug("page fetched",
		zap.String("url", url),
		zap.Int("categories", len(page.Categories)))
	s.bus.Publish(event.FetchResponse{Page: page})
}

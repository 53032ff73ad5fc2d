// Package categories drives the export: it seeds the first fetch, follows
// pagination, and turns every category into a file-write request.
package categories

import (
	"context"
	"errors"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/BJSummerfield/zendesk-export-v2/internal/bus"
	"github.com/BJSummerfield/zendesk-export-v2/internal/event"
	"github.com/BJSummerfield/zendesk-export-v2/internal/zendesk"
)

// SeedURL is the first page of the category listing, relative to the
// help-center API root.
const SeedURL = "categories.json"

// DefaultMaxPages bounds a pagination chain when a malformed cursor defeats
// the visited-set check.
const DefaultMaxPages = 1000

// Detail is what the service retains per category for the end-of-run
// summary.
type Detail struct {
	Name string
	URL  string
}

// Summary is the service's view of the run, reported after shutdown.
type Summary struct {
	Pages      int
	Categories int
	Failures   int
}

// Service consumes FetchResponse events and fans each page out into the
// next fetch request plus one file request per category.
type Service struct {
	bus      *bus.Bus
	sub      *bus.Subscription
	logger   *zap.Logger
	seedURL  string
	maxPages int

	mu      sync.Mutex
	visited map[string]struct{}
	index   map[int64]Detail
	summary Summary
}

// Option tweaks Service construction.
type Option func(*Service)

// WithSeedURL overrides the first request URL.
func WithSeedURL(url string) Option {
	return func(s *Service) { s.seedURL = url }
}

// WithMaxPages caps how many pages one run will follow.
func WithMaxPages(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPages = n
		}
	}
}

// New subscribes to the bus immediately; the seed request is published when
// Run starts.
func New(b *bus.Bus, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		bus:      b,
		sub:      b.Subscribe(),
		logger:   logger,
		seedURL:  SeedURL,
		maxPages: DefaultMaxPages,
		visited:  make(map[string]struct{}),
		index:    make(map[int64]Detail),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run publishes the seed request and then processes responses until
// Shutdown. Failed fetches are logged and never retried.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.visited[s.seedURL] = struct{}{}
	s.mu.Unlock()
	s.bus.Publish(event.FetchRequest{URL: s.seedURL})

	for {
		evt, err := s.sub.Receive(ctx)
		if err != nil {
			var lag *bus.LagError
			switch {
			case errors.As(err, &lag):
				s.logger.Warn("categories lagged", zap.Uint64("skipped", lag.Skipped))
				continue
			case errors.Is(err, bus.ErrClosed):
				return nil
			default:
				return err
			}
		}
		switch e := evt.(type) {
		case event.FetchResponse:
			if e.Err != "" {
				s.logger.Error("fetch failed", zap.String("error", e.Err))
				s.mu.Lock()
				s.summary.Failures++
				s.mu.Unlock()
				continue
			}
			s.bus.Publish(event.Increment(event.ServiceCategories))
			s.processPage(e.Page)
			s.bus.Publish(event.Decrement(event.ServiceCategories))
		case event.Shutdown:
			summary := s.Summary()
			s.logger.Info("categories shutting down",
				zap.Int("pages", summary.Pages),
				zap.Int("categories", summary.Categories),
				zap.Int("failures", summary.Failures))
			return nil
		}
	}
}

// processPage emits the continuation request (if any) and one markdown file
// request per category. The caller brackets it with activity deltas.
func (s *Service) processPage(page *zendesk.CategoryPage) {
	s.mu.Lock()
	s.summary.Pages++
	pages := s.summary.Pages
	s.mu.Unlock()

	if page.NextPage != nil && *page.NextPage != "" {
		s.followCursor(*page.NextPage, pages)
	}

	for _, cat := range page.Categories {
		name := SanitizeName(cat.Name)
		if name == "" {
			s.logger.Warn("category name sanitized to nothing, skipping",
				zap.Int64("id", cat.ID), zap.String("name", cat.Name))
			continue
		}
		s.bus.Publish(event.FileRequest{
			Kind: event.FileMarkdown,
			Path: path.Join(name, "_index.md"),
			Data: []byte(FrontMatter(cat.Name)),
		})
		s.mu.Lock()
		s.index[cat.ID] = Detail{Name: cat.Name, URL: cat.URL}
		s.summary.Categories++
		s.mu.Unlock()
	}
}

// followCursor publishes the continuation request unless the cursor was
// already visited or the page cap is reached.
func (s *Service) followCursor(cursor string, pages int) {
	s.mu.Lock()
	_, seen := s.visited[cursor]
	if !seen {
		s.visited[cursor] = struct{}{}
	}
	s.mu.Unlock()

	if seen {
		s.logger.Warn("pagination cursor already visited, stopping chain",
			zap.String("cursor", cursor))
		return
	}
	if pages >= s.maxPages {
		s.logger.Warn("pagination page cap reached, stopping chain",
			zap.Int("max_pages", s.maxPages))
		return
	}
	s.bus.Publish(event.FetchRequest{URL: cursor})
}

// Summary returns the run counters accumulated so far.
func (s *Service) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Index returns a copy of the id-to-detail map of every category seen.
func (s *Service) Index() map[int64]Detail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]Detail, len(s.index))
	for id, d := range s.index {
		out[id] = d
	}
	return out
}

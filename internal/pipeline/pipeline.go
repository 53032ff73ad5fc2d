// Package pipeline assembles the bus, the lifecycle monitor, and the three
// export services, runs them to quiescence, and reports how the run went.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BJSummerfield/zendesk-export-v2/internal/bus"
	"github.com/BJSummerfield/zendesk-export-v2/internal/categories"
	"github.com/BJSummerfield/zendesk-export-v2/internal/fetcher"
	"github.com/BJSummerfield/zendesk-export-v2/internal/filewriter"
	"github.com/BJSummerfield/zendesk-export-v2/internal/lifecycle"
)

// Config sizes the pipeline.
type Config struct {
	BusCapacity int
	OutputDir   string
	MaxPages    int
	SeedURL     string
}

// Summary aggregates the per-service run counters.
type Summary struct {
	Pages         int
	Categories    int
	FilesWritten  int
	FetchFailures int
	WriteFailures int
}

// Pipeline owns the bus and the four service loops.
type Pipeline struct {
	bus      *bus.Bus
	monitor  *lifecycle.Monitor
	fetchSvc *fetcher.Service
	catSvc   *categories.Service
	fileSvc  *filewriter.Service
	logger   *zap.Logger
	runID    uuid.UUID
}

// New wires everything together. All subscriptions are taken here, before
// Run publishes anything, so no service can miss an early event.
func New(cfg Config, client fetcher.Client, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.New()
	logger = logger.With(zap.String("run_id", runID.String()))

	sink, err := filewriter.NewSink(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("pipeline sink: %w", err)
	}

	b := bus.New(cfg.BusCapacity)
	var catOpts []categories.Option
	if cfg.SeedURL != "" {
		catOpts = append(catOpts, categories.WithSeedURL(cfg.SeedURL))
	}
	if cfg.MaxPages > 0 {
		catOpts = append(catOpts, categories.WithMaxPages(cfg.MaxPages))
	}

	return &Pipeline{
		bus:      b,
		monitor:  lifecycle.NewMonitor(b, logger.Named("monitor")),
		fetchSvc: fetcher.New(b, client, logger.Named("fetcher")),
		catSvc:   categories.New(b, logger.Named("categories"), catOpts...),
		fileSvc:  filewriter.New(b, sink, logger.Named("filewriter")),
		logger:   logger,
		runID:    runID,
	}, nil
}

// Bus exposes the underlying bus so auxiliary subscribers (metrics taps,
// tests) can attach before Run.
func (p *Pipeline) Bus() *bus.Bus {
	return p.bus
}

// Monitor exposes the lifecycle monitor for status reporting.
func (p *Pipeline) Monitor() *lifecycle.Monitor {
	return p.monitor
}

// Run starts every service loop and blocks until all of them observe
// Shutdown (or ctx ends). The bus is closed on the way out so any auxiliary
// subscribers drain and stop too.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	p.logger.Info("export starting")
	defer p.bus.Close()

	type loop struct {
		name string
		run  func(context.Context) error
	}
	loops := []loop{
		{"monitor", p.monitor.Run},
		{"fetcher", p.fetchSvc.Run},
		{"categories", p.catSvc.Run},
		{"filewriter", p.fileSvc.Run},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(loops))
	for i, l := range loops {
		wg.Add(1)
		go func(i int, l loop) {
			defer wg.Done()
			errs[i] = l.run(ctx)
		}(i, l)
	}
	wg.Wait()

	summary := p.summary()
	for i, err := range errs {
		if err != nil {
			return summary, fmt.Errorf("%s loop: %w", loops[i].name, err)
		}
	}
	p.logger.Info("export finished",
		zap.Int("pages", summary.Pages),
		zap.Int("categories", summary.Categories),
		zap.Int("files_written", summary.FilesWritten),
		zap.Int("fetch_failures", summary.FetchFailures),
		zap.Int("write_failures", summary.WriteFailures))
	return summary, nil
}

func (p *Pipeline) summary() Summary {
	cat := p.catSvc.Summary()
	files := p.fileSvc.Summary()
	return Summary{
		Pages:         cat.Pages,
		Categories:    cat.Categories,
		FilesWritten:  files.Written,
		FetchFailures: cat.Failures,
		WriteFailures: files.Failures,
	}
}

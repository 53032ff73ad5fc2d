// Package main wires together the help-center export binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BJSummerfield/zendesk-export-v2/internal/config"
	"github.com/BJSummerfield/zendesk-export-v2/internal/logging"
	"github.com/BJSummerfield/zendesk-export-v2/internal/metrics"
	"github.com/BJSummerfield/zendesk-export-v2/internal/pipeline"
	"github.com/BJSummerfield/zendesk-export-v2/internal/server"
	"github.com/BJSummerfield/zendesk-export-v2/internal/zendesk"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "zendesk-export: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "zendesk-export",
		Short:         "Export help-center categories to markdown",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	return root
}

func runExport(parent context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := zendesk.NewClient(zendesk.ClientConfig{
		BaseURL:  cfg.Zendesk.BaseURL,
		Language: cfg.Zendesk.Language,
		Email:    cfg.Zendesk.Email,
		Password: cfg.Zendesk.Password,
		Timeout:  time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
	})

	p, err := pipeline.New(pipeline.Config{
		BusCapacity: cfg.Bus.Capacity,
		OutputDir:   cfg.Export.OutputDir,
		MaxPages:    cfg.Export.MaxPages,
	}, client, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	tap, err := metrics.NewTap(registry, p.Bus(), logger.Named("metrics"))
	if err != nil {
		return err
	}
	tapDone := make(chan error, 1)
	go func() {
		tapDone <- tap.Run(ctx)
	}()

	if cfg.Server.Port > 0 {
		srv := server.New(cfg.Server.Port, p.Monitor(), registry, logger.Named("server"))
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("debug server shutdown failed", zap.Error(err))
			}
		}()
	}

	summary, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("export run: %w", err)
	}
	if err := <-tapDone; err != nil {
		logger.Warn("metrics tap exited with error", zap.Error(err))
	}
	if summary.FetchFailures > 0 || summary.WriteFailures > 0 {
		return fmt.Errorf("export finished with %d fetch and %d write failures",
			summary.FetchFailures, summary.WriteFailures)
	}
	return nil
}

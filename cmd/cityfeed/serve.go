package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cityfeed/internal/config"
	"cityfeed/internal/ics"
	appLog "cityfeed/internal/log"
	"cityfeed/internal/metrics"
	"cityfeed/internal/pipeline"
	"cityfeed/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Refresh feeds on schedule and serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config if set)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"refresh", cfg.RefreshCron,
		"horizon_days", cfg.HorizonDays,
		"cache_dir", cfg.CacheDir,
		"source_count", len(cfg.Sources),
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	runner := newRunner(cfg, collector)

	// Initial refresh so the API has data before the first tick.
	if _, err := runner.Refresh(ctx); err != nil {
		appLog.Error("initial refresh finished with errors", err)
	}

	sched, err := pipeline.NewScheduler(ctx, cfg.RefreshCron, runner)
	if err != nil {
		return err
	}
	go sched.Run(ctx)

	srv := web.NewServer(runner, collector.Handler(), cfg.BasicAuth)
	err = srv.ListenAndServe(ctx, cfg.Listen)
	appLog.Info("cityfeed exiting")
	return err
}

func newRunner(cfg *config.Config, collector *metrics.Collector) *pipeline.Runner {
	fetcher := ics.NewFetcher(ics.FetchOptions{
		CacheDir: cfg.CacheDir,
		Timeout:  cfg.Fetch.Timeout(),
		Retries:  cfg.Fetch.Retries,
	})
	return pipeline.New(fetcher, pipeline.SourcesFromConfig(cfg.Sources), cfg.HorizonDays, collector)
}

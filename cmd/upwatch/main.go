package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hazz-dev/upwatch/internal/catalog"
	"github.com/hazz-dev/upwatch/internal/config"
	"github.com/hazz-dev/upwatch/internal/logging"
	"github.com/hazz-dev/upwatch/internal/metrics"
	"github.com/hazz-dev/upwatch/internal/monitor"
	"github.com/hazz-dev/upwatch/internal/probe"
	"github.com/hazz-dev/upwatch/internal/registry"
	"github.com/hazz-dev/upwatch/internal/scheduler"
	"github.com/hazz-dev/upwatch/internal/server"
	"github.com/hazz-dev/upwatch/internal/sink"
	"github.com/hazz-dev/upwatch/internal/status"
	"github.com/hazz-dev/upwatch/internal/version"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "upwatch",
		Short:        "Scheduled HTTP uptime monitoring",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (defaults apply when empty)")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(migrateCmd())

	return root
}

// loadConfig reads --config, or returns the defaults when it is not set.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func probeOptions(cfg config.ProbeConfig) probe.Options {
	opts := probe.OptionsFromConfig(cfg)
	if opts.UserAgent == "" {
		opts.UserAgent = version.UserAgent()
	}
	return opts
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler and the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Config and logging
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("config loaded", "monitors", len(cfg.Monitors), "storage", cfg.Storage.Driver)

	// 2. Signal context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 3. Storage
	db, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	// 4. Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	// 5. Registry: rebuild from storage, then apply config seeds
	reg := registry.New(nil)
	cat := catalog.New(db, reg, logger, nil)
	if _, err := cat.Restore(ctx); err != nil {
		return fmt.Errorf("restoring schedule: %w", err)
	}
	if err := cat.Seed(ctx, cfg.Monitors); err != nil {
		return fmt.Errorf("seeding monitors: %w", err)
	}

	// 6. Scheduler
	exec := probe.New(probeOptions(cfg.Probe))
	snk := sink.New(db, reg, sink.Options{
		Attempts: cfg.Scheduler.SinkAttempts,
		Backoff:  cfg.Scheduler.SinkBackoff.Duration,
	}, m, logger)
	sched := scheduler.New(reg, exec, snk, scheduler.Options{
		Tick:    cfg.Scheduler.Tick.Duration,
		Workers: cfg.Scheduler.Workers,
	}, m, logger)

	// 7. API server
	opts := server.Options{
		Window:      cfg.Scheduler.Window.Duration,
		CORSOrigins: cfg.Server.CORSOrigins,
		MetricsPath: cfg.Metrics.Path,
	}
	if cfg.MetricsEnabled() {
		opts.Metrics = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
	}
	apiServer := server.New(cat, status.New(db, reg, nil), db, sched, opts, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Start scheduler
	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()
	logger.Info("scheduler started",
		"monitors", reg.Len(),
		"workers", cfg.Scheduler.Workers,
		"tick", cfg.Scheduler.Tick.Duration,
	)

	// 9. Start HTTP server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// 10. Wait for signal or server error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server: %w", err)
		stop()
	}

	// 11. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}
	<-schedDone
	sched.Wait()

	logger.Info("shutdown complete")
	return runErr
}

func checkCmd() *cobra.Command {
	var urls []string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the active monitors once without recording results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var active []monitor.Monitor
			if len(urls) == 0 {
				db, err := openStore(cmd.Context(), cfg.Storage)
				if err != nil {
					return err
				}
				active, err = db.ListActive(cmd.Context())
				db.Close()
				if err != nil {
					return fmt.Errorf("listing monitors: %w", err)
				}
			}
			return executeCheck(cmd, cfg, urls, active)
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "probe these URLs instead of the configured monitors")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the latest result of every active monitor",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cmd.Context(), cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	return executeStatus(cmd, db, cfg.Scheduler.Window.Duration)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the storage schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// openStore applies the schema for either driver.
			db, err := openStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrations: up OK (%s)\n", cfg.Storage.Driver)
			return nil
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/troppes/strixlog/logstreamer/internal/config"
	"github.com/troppes/strixlog/logstreamer/internal/dashboard"
	"github.com/troppes/strixlog/logstreamer/internal/filter"
	"github.com/troppes/strixlog/logstreamer/internal/hub"
	"github.com/troppes/strixlog/logstreamer/internal/ingest"
	"github.com/troppes/strixlog/logstreamer/internal/metrics"
	"github.com/troppes/strixlog/logstreamer/internal/printer"
	"github.com/troppes/strixlog/logstreamer/internal/server"
	"github.com/troppes/strixlog/logstreamer/internal/source/docker"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logstreamer: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("logstreamer stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	lvl, _ := cfg.SlogLevel() // validated by config.Load
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fmt.Errorf("starting gops agent: %w", err)
		}
		defer agent.Close()
	}

	h := hub.New(cfg.HubCapacity)
	collector := metrics.New()

	f := filter.New()
	if err := f.Configure(cfg.Filter.Spec()); err != nil {
		// Valid entries are already applied.
		logger.Warn("ignoring invalid filter settings", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.RegisterHubCollectors(reg, h); err != nil {
		return fmt.Errorf("registering hub metrics: %w", err)
	}
	promSink, err := metrics.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	reporter := metrics.NewReporter(collector, cfg.MetricsInterval, logger.With("component", "metrics"),
		metrics.LogSink{Logger: logger.With("component", "metrics")}, promSink)

	streamer := ingest.NewStreamer(f, h, collector, logger.With("component", "ingest"))
	ingestSrv := ingest.NewServer(cfg.IngestAddr, streamer, collector, cfg.MaxConnections, logger.With("component", "ingest"))

	dashSrv := server.NewServer(cfg.DashboardAddr)
	dashSrv.Handle("/", dashboard.NewHandler(h, cfg.DashboardOrigins, logger.With("component", "dashboard")))

	var statusSrv *server.Server
	if cfg.StatusAddr != "" {
		statusSrv = server.NewStatusServer(cfg.StatusAddr, collector.Snapshot, reg)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reporter.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return ingestSrv.ListenAndServe(gctx)
	})

	g.Go(func() error {
		logger.Info("dashboard listening", "addr", cfg.DashboardAddr)
		return dashSrv.Start()
	})

	if statusSrv != nil {
		g.Go(func() error {
			logger.Info("status server listening", "addr", cfg.StatusAddr)
			return statusSrv.Start()
		})
	}

	if cfg.Docker {
		src := docker.NewDockerSource(logger.With("component", "docker"))
		if err := src.Start(gctx); err != nil {
			stop()
			g.Wait() //nolint:errcheck
			return fmt.Errorf("docker source start: %w", err)
		}
		defer src.Stop() //nolint:errcheck
		g.Go(func() error {
			streamer.Consume(gctx, src)
			return nil
		})
	}

	if cfg.Console {
		cur := h.Subscribe()
		g.Go(func() error {
			printer.PrintLogs(gctx, cur)
			return nil
		})
	}

	// Stops the HTTP servers and wakes every hub cursor once the group
	// context ends, whether by signal or by a failed server.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		h.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs := []error{dashSrv.Shutdown(shutdownCtx)}
		if statusSrv != nil {
			errs = append(errs, statusSrv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"warden/internal/abuse/tracer"
	"warden/internal/platform/config"
	"warden/internal/platform/health"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/logger"
)

// main wires dependencies and hands every long-running component to one
// supervisor. Business logic lives in internal/abuse.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level)
	log.Info("initializing warden",
		"environment", cfg.Environment,
		"addr", cfg.Server.Addr,
		"counter_backend", cfg.Engine.CounterBackend,
		"version", health.Version,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracer.Init(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.SampleRatio, health.Version, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := build(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer app.close(log)

	srv := httpserver.New(cfg.Server, newRouter(cfg, log, reg, app))

	sup := newSupervisor(log, cfg.Server.ShutdownTimeout)
	sup.Add(httpserver.NewService(srv, cfg.Server.Addr, cfg.Server.ShutdownTimeout))
	for _, svc := range app.services {
		sup.Add(svc)
	}

	log.Info("starting http server", "addr", cfg.Server.Addr)
	err = sup.Serve(ctx)
	log.Info("warden stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newSupervisor(log *slog.Logger, shutdownTimeout time.Duration) *suture.Supervisor {
	hook := (&sutureslog.Handler{Logger: log}).MustHook()
	return suture.New("warden", suture.Spec{
		EventHook:        hook,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}

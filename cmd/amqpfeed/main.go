// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	feed "github.com/GwynCerbin/amqp_feed"
	"github.com/GwynCerbin/amqp_feed/configs"
	"github.com/GwynCerbin/amqp_feed/pkg/adapter"
	"github.com/GwynCerbin/amqp_feed/pkg/trigger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "amqpfeed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := configs.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics, err := feed.NewMetrics(reg)
	if err != nil {
		return err
	}

	dialer := adapter.NewDialer(&cfg.Client, logger.Named("amqp"))
	triggers := trigger.NewLogRegistry(logger.Named("trigger"))

	registry := feed.NewRegistry(dialer, triggers)
	registry.SetLogger(logger.Named("feed"))
	registry.SetMetrics(metrics)

	if cfg.RemoveOnDisable {
		triggers.SetRemover(registry)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, f := range cfg.Feeds {
		fc, err := feed.Validate(ctx, dialer, f.Params)
		if err != nil {
			logger.Error("feed rejected", zap.String("feed", f.ID), zap.Error(err))
			continue
		}

		if err = registry.Add(ctx, f.ID, fc); err != nil {
			logger.Error("feed not started", zap.String("feed", f.ID), zap.Error(err))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	serveErr := make(chan error, 1)

	go func() {
		logger.Info("metrics listening", zap.String("addr", server.Addr), zap.Int("feeds", registry.Len()))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var errs []error

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case serr := <-serveErr:
		logger.Error("metrics server failed", zap.Error(serr))
		errs = append(errs, serr)
	}

	shutdownCtx, cancel := shutdownContext(cfg.ShutdownTimeout)
	defer cancel()

	if cerr := registry.Close(shutdownCtx); cerr != nil {
		errs = append(errs, cerr)
	}

	if serr := server.Shutdown(shutdownCtx); serr != nil {
		errs = append(errs, serr)
	}

	return errors.Join(errs...)
}

// shutdownContext bounds the shutdown by timeout; zero waits indefinitely.
func shutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout == 0 {
		return context.WithCancel(context.Background())
	}

	return context.WithTimeout(context.Background(), timeout)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl

	return cfg.Build()
}

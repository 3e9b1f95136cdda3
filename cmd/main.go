// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

// Package main runs the local controller gateway: a WebSocket relay
// between charge points on the local network and the central system.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/backend"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/config"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/events"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/gateway"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/health"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/metrics"
)

func main() {
	iniPath := flag.String("config", "", "path to an INI configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		// .env file is optional
	}
	cfg, err := config.Load(*iniPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	policy, err := gateway.ParsePolicy(cfg.RoutingPolicy)
	if err != nil {
		logger.Error("Invalid routing policy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	m := metrics.New("wsgate", prometheus.DefaultRegisterer)

	manager := backend.New(backend.Config{
		ReconnectInterval: cfg.ReconnectInterval,
		BackoffFactor:     cfg.BackoffFactor,
		BackoffMax:        cfg.BackoffMax,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		MaxPayload:        cfg.MaxPayload,
		Logger:            logger,
	})

	gw := gateway.New(gateway.Config{
		Address: cfg.ListenAddress,
		Target: backend.Target{
			Host: cfg.BackendHost,
			Port: cfg.BackendPort,
			Path: cfg.BackendPath,
		},
		Policy:           policy,
		SlotCapacity:     cfg.SlotCapacity,
		MaxPayload:       cfg.MaxPayload,
		HandshakeTimeout: cfg.HandshakeTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		ShutdownTimeout:  cfg.ShutdownTimeout,
		AcceptRate:       cfg.AcceptRate,
		AcceptBurst:      cfg.AcceptBurst,
		Logger:           logger,
		Metrics:          m,
		Events:           events.NewLogger(logger),
		Backends:         manager,
	})

	healthChecker := health.NewChecker(5 * time.Second)
	healthChecker.Register("backend", func(ctx context.Context) error {
		st := gw.Status()
		if st.BackendState != backend.Open {
			return fmt.Errorf("backend %s is %s", st.Target, st.BackendState)
		}
		return nil
	})
	healthChecker.Register("slots", func(ctx context.Context) error {
		st := gw.Status()
		if st.ActiveSessions >= cfg.SlotCapacity {
			return fmt.Errorf("all %d session slots taken", cfg.SlotCapacity)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return gw.Listen(ctx)
	})
	g.Go(func() error {
		return serveHTTP(ctx, cfg.MetricsPort, metricsMux(), "metrics", logger)
	})
	g.Go(func() error {
		return serveHTTP(ctx, cfg.HealthPort, healthMux(healthChecker), "health", logger)
	})

	// SIGHUP reloads the INI file and retargets the backend links;
	// SIGINT/SIGTERM shut down.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-reload:
			next, err := config.Load(*iniPath)
			if err != nil {
				logger.Error("Reload failed, keeping configuration", slog.String("error", err.Error()))
				continue
			}
			policy, err := gateway.ParsePolicy(next.RoutingPolicy)
			if err != nil {
				logger.Error("Reload failed, keeping configuration", slog.String("error", err.Error()))
				continue
			}
			gw.Reconfigure(backend.Target{
				Host: next.BackendHost,
				Port: next.BackendPort,
				Path: next.BackendPath,
			}, policy)
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
			if err := g.Wait(); err != nil && err != context.Canceled {
				logger.Error("Shutdown error", slog.String("error", err.Error()))
				os.Exit(1)
			}
			logger.Info("Graceful shutdown completed")
			return
		case <-ctx.Done():
			if err := g.Wait(); err != nil && err != context.Canceled {
				logger.Error("Gateway error", slog.String("error", err.Error()))
				os.Exit(1)
			}
			return
		}
	}
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func healthMux(checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())
	return mux
}

// serveHTTP runs an auxiliary HTTP server until the context is cancelled.
func serveHTTP(ctx context.Context, port int, mux *http.ServeMux, name string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting "+name+" server", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	}
}

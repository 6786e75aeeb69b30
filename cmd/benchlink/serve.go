// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/benchlink/lib/config"
	"github.com/bureau-foundation/benchlink/lib/version"
	"github.com/bureau-foundation/benchlink/metrics"
	"github.com/bureau-foundation/benchlink/relay"
	"github.com/bureau-foundation/benchlink/session"
)

const metricsShutdownTimeout = 5 * time.Second

func serveCommand(s streams) *Command {
	var common commonFlags
	return &Command{
		Name:    "serve",
		Summary: "Own the configured instruments and serve them on the relay socket",
		Help:    s.err,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			common.add(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := common.load()
			if err != nil {
				return err
			}
			logger, err := common.logger(s.err)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, benchOptions{}, nil)
		},
	}
}

// serve runs until ctx is done. ready, when non-nil, is closed once
// the relay socket is being served.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, options benchOptions, ready chan<- struct{}) error {
	if cfg.Relay.Socket == "" {
		return errors.New("relay.socket is required to serve")
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	if options.Metrics == nil && cfg.Metrics.Listen != "" {
		options.Metrics = metrics.New()
	}

	b, err := openBench(cfg, logger, options)
	if err != nil {
		return err
	}
	defer b.Close()

	host := session.NewHost(b.registry, logger)
	defer host.Close()
	server := relay.NewServer(cfg.Relay.Socket, host, b.registry, logger)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(serveCtx)
	}()

	failed := make(chan error, 1)
	var metricsServer *http.Server
	if cfg.Metrics.Listen != "" {
		listener, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			cancel()
			<-serveDone
			return fmt.Errorf("listening for metrics on %s: %w", cfg.Metrics.Listen, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", options.Metrics.Handler())
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				failed <- fmt.Errorf("serving metrics: %w", err)
			}
		}()
		logger.Info("serving metrics", "address", listener.Addr().String())
	}

	logger.Info("serving instruments",
		"version", version.Info(),
		"socket", cfg.Relay.Socket,
		"instruments", b.registry.List(),
	)
	if autoConnected := b.autoConnect(); len(autoConnected) > 0 {
		logger.Info("restored sessions", "instruments", autoConnected)
	}
	if ready != nil {
		waitForSocket(ctx, cfg.Relay.Socket)
		close(ready)
	}

	var result error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case result = <-failed:
	case result = <-serveDone:
		serveDone = nil
	}
	cancel()
	if serveDone != nil {
		if err := <-serveDone; err != nil && result == nil {
			result = err
		}
	}
	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancelShutdown()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && result == nil {
			result = fmt.Errorf("stopping metrics server: %w", err)
		}
	}
	logger.Info("shutdown complete")
	return result
}

// waitForSocket polls until path exists or ctx ends.
func waitForSocket(ctx context.Context, path string) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

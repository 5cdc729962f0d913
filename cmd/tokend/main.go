// SPDX-License-Identifier: MIT

// Command tokend serves the push-token registry: registration,
// exchange, revocation and validation, rate limited per caller.
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

	"github.com/sambitos23/walkie-lazy/internal/api"
	"github.com/sambitos23/walkie-lazy/internal/config"
	"github.com/sambitos23/walkie-lazy/internal/log"
	"github.com/sambitos23/walkie-lazy/internal/push"
	"github.com/sambitos23/walkie-lazy/internal/ratelimit"
	"github.com/sambitos23/walkie-lazy/internal/registry"
	"github.com/sambitos23/walkie-lazy/internal/telemetry"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tokend:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "tokend"})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "walkie-tokend",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	blacklist := registry.NewBlacklist(cfg.Blacklist)
	opts := []registry.Option{}
	if cfg.PushGatewayURL != "" {
		opts = append(opts, registry.WithPushSender(
			push.NewHTTPNotifier(cfg.PushGatewayURL, cfg.PushRatePerSec, cfg.PushBurst),
		))
	}
	svc := registry.NewService(store, blacklist, cfg.TokenTTL, opts...)

	limiter := ratelimit.New(limiterConfig(cfg))
	server := api.NewServer(svc, limiter, cfg.GlobalRPM)

	// Hot reload: blacklist and rate windows follow the config file.
	if *configPath != "" {
		holder := config.NewHolder(cfg, *configPath)
		updates := make(chan config.Config, 1)
		holder.Subscribe(updates)
		go func() {
			for next := range updates {
				blacklist.Replace(next.Blacklist)
				limiter.Replace(limiterConfig(next))
			}
		}()
		if err := holder.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("config watch disabled")
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.Listen).Str("store", cfg.Store).Msg("registry listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(cfg config.Config) (registry.Store, error) {
	switch cfg.Store {
	case "redis":
		return registry.OpenRedisStore(registry.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		return registry.OpenBadgerStore(cfg.DataDir)
	}
}

func limiterConfig(cfg config.Config) ratelimit.Config {
	out := ratelimit.DefaultConfig()
	for scope, rw := range cfg.RateLimits {
		out[ratelimit.Scope(scope)] = ratelimit.Window{Limit: rw.Limit, Window: rw.Window}
	}
	return out
}

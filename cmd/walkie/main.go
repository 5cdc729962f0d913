// SPDX-License-Identifier: MIT

// Command walkie runs the connection lifecycle manager against a local
// registry, pairing two endpoints over the in-process loopback
// transport. It demonstrates the full client wiring: token bootstrap,
// connect, network-loss recovery, disconnect.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sambitos23/walkie-lazy/internal/backoff"
	"github.com/sambitos23/walkie-lazy/internal/conn"
	"github.com/sambitos23/walkie-lazy/internal/log"
	"github.com/sambitos23/walkie-lazy/internal/netmon"
	"github.com/sambitos23/walkie-lazy/internal/peer"
	"github.com/sambitos23/walkie-lazy/internal/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "walkie:", err)
		os.Exit(1)
	}
}

func run() error {
	log.Configure(log.Config{Service: "walkie"})
	logger := log.WithComponent("main")

	localID := envOr("WALKIE_LOCAL_ID", "walkie-a")
	remoteID := envOr("WALKIE_REMOTE_ID", "walkie-b")
	registryURL := envOr("WALKIE_REGISTRY_URL", "http://127.0.0.1:8090")
	cachePath := envOr("WALKIE_TOKEN_CACHE", "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := token.NewHTTPClient(registryURL, localID)
	var cache *token.Cache
	if cachePath != "" {
		cache = token.NewCache(cachePath)
	}
	tokens, err := token.NewScheduler(token.Options{
		Provider:           token.ProviderFunc(generateToken),
		Validator:          client,
		Registrar:          client,
		Cache:              cache,
		ValidationInterval: 5 * time.Minute,
	})
	if err != nil {
		return err
	}

	transport := peer.NewLoopbackTransport()
	// The remote endpoint answers on the same loopback switchboard so a
	// single process demonstrates the whole cycle.
	if _, err := transport.Open(ctx, remoteID); err != nil {
		return err
	}

	manager, err := conn.New(conn.Options{
		LocalID:       localID,
		RemoteID:      remoteID,
		Transport:     transport,
		Tokens:        tokens,
		Policy:        backoff.DefaultPolicy(),
		AutoReconnect: true,
		OnChange: func(st conn.Status) {
			logger.Info().
				Str("state", st.State.String()).
				Int("retries", st.RetryCount).
				Bool("online", st.Online).
				Msg("status")
		},
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	probeAddr, err := probeAddrFromURL(registryURL)
	if err != nil {
		return err
	}
	monitor := netmon.New(
		netmon.DialProbe{Addr: probeAddr},
		5*time.Second,
		manager.HandleOnline,
		manager.HandleOffline,
	)
	monitor.Start(ctx)
	defer monitor.Close()

	if err := manager.InitializeToken(ctx); err != nil {
		logger.Warn().Err(err).Msg("token bootstrap failed, connect will retry")
	}
	manager.Connect()

	<-ctx.Done()
	manager.Disconnect()
	return nil
}

// generateToken mimics a platform push subscription: an opaque value
// long enough to pass the registry's format check.
func generateToken(context.Context) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "walkie-push-" + hex.EncodeToString(buf), nil
}

func probeAddrFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse registry url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		host += ":80"
	}
	return host, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

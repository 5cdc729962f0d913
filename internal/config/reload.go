// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/sambitos23/walkie-lazy/internal/log"
)

// Holder keeps the current configuration and supports atomic hot reload
// from file. A reload that fails to load or validate keeps the previous
// configuration in place.
type Holder struct {
	mu      sync.RWMutex
	current Config
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	listenerMu sync.RWMutex
	listeners  []chan<- Config
}

// NewHolder wraps an already-loaded configuration.
func NewHolder(initial Config, path string) *Holder {
	return &Holder{
		current: initial,
		path:    path,
		logger:  log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Subscribe registers a channel that receives each successfully applied
// configuration. The channel must be serviced; sends are non-blocking and
// dropped if the receiver lags.
func (h *Holder) Subscribe(ch chan<- Config) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload re-reads the configuration file and applies it if valid.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")

	next, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str(log.FieldEvent, "config.reload_failed").
			Msg("keeping previous configuration")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	h.current = next
	h.mu.Unlock()

	h.notify(next)
	h.logger.Info().Str(log.FieldEvent, "config.reload_applied").Msg("configuration reloaded")
	return nil
}

func (h *Holder) notify(cfg Config) {
	h.listenerMu.RLock()
	defer h.listenerMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Watch starts watching the configuration file for writes and reloads on
// change. Returns immediately; watching stops when ctx is done. Editors
// often emit bursts of events, so writes are debounced.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		return fmt.Errorf("no config file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(h.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", h.path, err)
	}
	h.watcher = watcher

	go func() {
		defer func() { _ = watcher.Close() }()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					_ = h.Reload(ctx)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/rs/zerolog"
)

const debounceDuration = 500 * time.Millisecond

// Holder holds the active snapshot and supports hot reloading
// from file or manual trigger via API.
type Holder struct {
	mu      sync.RWMutex
	current Snapshot
	loader  *Loader
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []chan<- Snapshot
}

// NewHolder creates a holder with an initial snapshot.
func NewHolder(initial Snapshot, loader *Loader) *Holder {
	return &Holder{
		current: initial.Clone(),
		loader:  loader,
		logger:  xglog.WithComponent("config"),
	}
}

// Get returns a copy of the current snapshot.
func (h *Holder) Get() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.Clone()
}

// Reload reloads configuration and swaps it in only when it validates.
// On failure the previous snapshot stays active.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	old := h.current
	h.current = next
	h.mu.Unlock()

	h.logChanges(old, next)
	h.notifyListeners(next)

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher watches the config file for changes until ctx is done.
// With no config path this is a no-op.
func (h *Holder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}
	h.watcher = watcher

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str(xglog.FieldPath, path).
		Msg("watching config file for changes")

	go h.watchLoop(ctx, watcher)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.logger.Debug().
				Str("event", "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDuration, func() {
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().
						Err(err).
						Str("event", "config.auto_reload_failed").
						Msg("automatic config reload failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// RegisterListener registers a channel that receives every successfully
// reloaded snapshot. Sends are non-blocking; slow listeners miss updates.
func (h *Holder) RegisterListener(ch chan<- Snapshot) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notifyListeners(next Snapshot) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- next.Clone():
		default:
			h.logger.Warn().
				Str("event", "config.listener_blocked").
				Msg("config reload listener channel full, skipping notification")
		}
	}
}

func (h *Holder) logChanges(old, next Snapshot) {
	if old.Storage.RecordDrive != next.Storage.RecordDrive {
		h.logger.Info().
			Str("event", "config.changed").
			Str("field", "storage.recordDrive").
			Str("old", old.Storage.RecordDrive).
			Str("new", next.Storage.RecordDrive).
			Msg("configuration field changed")
	}
	if old.Storage.FullDiskAction != next.Storage.FullDiskAction {
		h.logger.Info().
			Str("event", "config.changed").
			Str("field", "storage.fullDiskAction").
			Str("old", old.Storage.FullDiskAction).
			Str("new", next.Storage.FullDiskAction).
			Msg("configuration field changed")
	}
	if old.Storage.Retention.DriveDays != next.Storage.Retention.DriveDays {
		h.logger.Info().
			Str("event", "config.changed").
			Str("field", "storage.retention.driveDays").
			Int("old", old.Storage.Retention.DriveDays).
			Int("new", next.Storage.Retention.DriveDays).
			Msg("configuration field changed")
	}
	if len(old.Storage.Volumes) != len(next.Storage.Volumes) || len(old.Storage.Groups) != len(next.Storage.Groups) {
		h.logger.Info().
			Str("event", "config.changed").
			Str("field", "storage.topology").
			Int("old_volumes", len(old.Storage.Volumes)).
			Int("new_volumes", len(next.Storage.Volumes)).
			Msg("storage topology changed")
	}
}

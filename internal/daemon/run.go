// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/diskops"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
)

// recoveryPoll is how often startup recovery checks its slot.
const recoveryPoll = 200 * time.Millisecond

// Run starts every subsystem and blocks until ctx is cancelled or one of
// them fails. Shutdown hooks run before it returns.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	a.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if err := a.holder.StartWatcher(ctx); err != nil {
		a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
	}

	applyCh := make(chan config.Snapshot, 1)
	a.holder.RegisterListener(applyCh)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case snap := <-applyCh:
				a.applyConfig(snap)
			}
		}
	})

	if a.deps.ReloadSignal {
		g.Go(func() error { return a.reloadOnSignal(ctx) })
	}

	g.Go(func() error { return a.timers.Run(ctx) })
	g.Go(func() error { return a.recorder.Run(ctx) })
	g.Go(func() error { return a.monitor.Run(ctx) })
	g.Go(func() error { return a.api.Run(ctx) })
	g.Go(func() error {
		a.probeVolumes(ctx)
		a.reselectGroups()
		a.recoverVolumes(ctx)
		return nil
	})

	a.schedule(a.holder.Get())
	a.logger.Info().Str(xglog.FieldEvent, "daemon.started").Str("version", a.deps.Version).Msg("daemon started")

	err := g.Wait()
	a.unschedule()
	if serr := a.shutdown(context.Background()); serr != nil {
		err = errors.Join(err, serr)
	}
	a.logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("daemon stopped")
	return err
}

func (a *App) reloadOnSignal(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			a.logger.Info().
				Str(xglog.FieldEvent, "config.reload_signal").
				Msg("received reload signal, reloading config")
			if err := a.holder.Reload(ctx); err != nil {
				a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.reload_failed").Msg("config reload failed")
			}
		}
	}
}

// applyConfig hands a reloaded snapshot to the configuration change job and
// re-arms the periodic sweeps. A change that arrives while one is still
// applied is dropped; the next reload carries the full snapshot again.
func (a *App) applyConfig(snap config.Snapshot) {
	if _, err := a.diskops.ConfigChange(snap); err != nil {
		ev := a.logger.Error()
		if errors.Is(err, diskops.ErrBusy) {
			ev = a.logger.Warn()
		}
		ev.Err(err).Str(xglog.FieldEvent, "daemon.config_change_rejected").Msg("configuration change not applied")
		return
	}
	a.unschedule()
	a.schedule(snap)
}

// probeVolumes sets the initial health of every configured volume from
// whether its mount point answers.
func (a *App) probeVolumes(ctx context.Context) {
	for _, l := range a.topology.Locals() {
		h := volume.HealthNormal
		if _, err := a.deps.Stat.Usage(ctx, l.MountPoint); err != nil {
			h = volume.HealthNoDisk
			a.logger.Warn().Err(err).Str(xglog.FieldVolume, l.ID.String()).Str(xglog.FieldMountPoint, l.MountPoint).Msg("volume not available")
		}
		a.registry.SetHealth(l.ID, h)
	}
	for _, id := range []volume.ID{volume.NAS1, volume.NAS2} {
		if _, ok := a.topology.MountPoint(id); !ok {
			continue
		}
		h := volume.HealthNoDisk
		if a.nas.Mounted(ctx, id) {
			h = volume.HealthNormal
		}
		a.registry.SetHealth(id, h)
	}
}

// reselectGroups moves groups whose first volume is absent or faulty onto a
// healthy member.
func (a *App) reselectGroups() {
	for _, sw := range a.topology.Reselect(a.registry) {
		a.logger.Info().
			Str(xglog.FieldEvent, "daemon.group_reselected").
			Int("group", sw.Group).
			Str("from", sw.From.String()).
			Str("to", sw.To.String()).
			Msg("group moved to a healthy volume")
		a.recorder.SwitchDrive(sw.Cameras)
	}
}

// recoverVolumes runs post-mount recovery on every present volume, one at
// a time.
func (a *App) recoverVolumes(ctx context.Context) {
	var ids []volume.ID
	for _, s := range a.registry.Snapshot() {
		if s.Health != volume.HealthNoDisk {
			ids = append(ids, s.ID)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		for {
			_, err := a.diskops.Recover(id)
			if err == nil || !errors.Is(err, diskops.ErrBusy) {
				if err != nil {
					a.logger.Warn().Err(err).Str(xglog.FieldVolume, id.String()).Msg("startup recovery not started")
				}
				break
			}
			if !a.sleep(ctx, recoveryPoll) {
				return
			}
		}
		for a.diskops.Running(diskops.KindRecovery) {
			if !a.sleep(ctx, recoveryPoll) {
				return
			}
		}
	}
}

func (a *App) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

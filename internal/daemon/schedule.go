// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/cleanup"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
)

// schedule arms the periodic retention and backup sweeps of cfg.
func (a *App) schedule(cfg config.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r := cfg.Storage.Retention; r.Enabled && r.Interval > 0 {
		a.schedules = append(a.schedules, a.timers.StartPeriodic(a.timers.Ticks(r.Interval), func() {
			a.sweep(cleanup.KindRetention, a.cleanup.RetentionByDay)
		}))
	}
	if b := cfg.Backup; b.Enabled && b.Interval > 0 {
		a.schedules = append(a.schedules, a.timers.StartPeriodic(a.timers.Ticks(b.Interval), func() {
			a.sweep(cleanup.KindBackup, a.cleanup.BackupCleanup)
		}))
	}
}

func (a *App) unschedule() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, h := range a.schedules {
		a.timers.Cancel(h)
	}
	a.schedules = nil
}

func (a *App) sweep(kind cleanup.Kind, start func() (cleanup.Result, error)) {
	res, err := start()
	if err != nil {
		a.logger.Warn().Err(err).Str(xglog.FieldJobKind, string(kind)).Msg("scheduled cleanup not started")
		return
	}
	a.logger.Debug().
		Str(xglog.FieldEvent, "daemon.sweep").
		Str(xglog.FieldJobKind, string(kind)).
		Str("result", res.String()).
		Msg("scheduled cleanup")
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diskops

import (
	"context"
	"fmt"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
)

// ConfigChange applies a new snapshot: every drive is suspended, the
// topology and recording options are replaced, and recording restarts after
// the configured delay. A change arriving while one runs returns ErrBusy.
func (o *Orchestrator) ConfigChange(cfg config.Snapshot) (string, error) {
	return o.start(o.config, "apply configuration", func(ctx context.Context) error {
		return o.runConfigChange(ctx, cfg)
	})
}

func (o *Orchestrator) runConfigChange(ctx context.Context, cfg config.Snapshot) error {
	logger := xglog.WithContext(ctx, o.logger)
	reg := o.opts.Registry

	reg.SetDriveAction(volume.AllDrives, volume.ActionConfigChange)
	suspended := o.opts.Recording.Suspend(volume.AllDrives)
	o.opts.Events.Emit(ctx, eventlog.CategorySystem, eventlog.SubtypeConfigChange, cfg.ConfigVersion, "", eventlog.StateStart)
	logger.Info().
		Str(xglog.FieldEvent, "diskops.config_change_started").
		Bool("suspended", suspended).
		Dur("delay", cfg.Recording.ConfigChangeDelay).
		Msg("applying configuration")

	var applyErr error
	if err := o.opts.Volumes.Apply(cfg); err != nil {
		applyErr = fmt.Errorf("apply topology: %w", err)
		logger.Error().Err(err).Msg("topology rejected, keeping previous layout")
	}
	switches := o.opts.Volumes.Reselect(reg)
	for _, sw := range switches {
		logger.Info().
			Str(xglog.FieldEvent, "diskops.group_reselected").
			Int("group", sw.Group).
			Str("from", sw.From.String()).
			Str("to", sw.To.String()).
			Msg("group moved to a healthy volume")
	}
	o.opts.Recording.ApplyConfig(cfg.Recording)

	// The restart happens even when cancelled so recording is never left
	// suspended.
	waitErr := sleep(ctx, cfg.Recording.ConfigChangeDelay)

	reg.SetDriveAction(volume.AllDrives, volume.ActionNormal)
	if o.opts.Storage != nil && waitErr == nil {
		o.opts.Storage.CheckAll(ctx)
	}
	if suspended {
		o.opts.Recording.ResumeSuspended(volume.AllDrives)
	}
	for _, sw := range switches {
		o.opts.Recording.SwitchDrive(sw.Cameras)
	}

	state := eventlog.StateDone
	if applyErr != nil {
		state = eventlog.StateFail
	}
	o.opts.Events.Emit(ctx, eventlog.CategorySystem, eventlog.SubtypeConfigChange, cfg.ConfigVersion, "", state)
	logger.Info().Str(xglog.FieldEvent, "diskops.config_change_done").Msg("configuration applied")
	if applyErr != nil {
		return applyErr
	}
	return waitErr
}

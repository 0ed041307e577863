// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diskops

import (
	"context"
	"fmt"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/segment"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/telemetry"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
)

// Recover runs post-mount recovery on media id.
func (o *Orchestrator) Recover(id volume.ID) (string, error) {
	mount, err := o.mount(id)
	if err != nil {
		return "", err
	}
	return o.start(o.recovery, "recover", func(ctx context.Context) error {
		return o.runRecover(ctx, id, mount)
	})
}

func (o *Orchestrator) runRecover(ctx context.Context, id volume.ID, mount string) (err error) {
	ctx, span := telemetry.Tracer("nvr/diskops").Start(ctx, "diskops.recover")
	drive := id.Drive()
	span.SetAttributes(telemetry.VolumeAttributes(id.String(), drive.String(), mount)...)
	defer func() { telemetry.Finish(span, err) }()

	logger := xglog.WithContext(ctx, o.logger).With().
		Str(xglog.FieldVolume, id.String()).
		Str(xglog.FieldMountPoint, mount).
		Logger()
	reg := o.opts.Registry

	target := o.opts.Volumes.IsRecordingTarget(id)
	suspended := false
	if target {
		reg.SetDriveAction(drive, volume.ActionRecovery)
		suspended = o.opts.Recording.Suspend(drive)
	}
	defer func() {
		if target {
			reg.SetDriveAction(drive, volume.ActionNormal)
		}
		if suspended {
			o.opts.Recording.ResumeSuspended(drive)
		}
	}()

	logger.Info().Str(xglog.FieldEvent, "diskops.recovery_started").Bool("suspended", suspended).Msg("recovering media")
	o.opts.Events.Emit(ctx, eventlog.CategorySystem, eventlog.SubtypeRecovery, id.String(), mount, eventlog.StateStart)

	if o.opts.Config != nil && o.opts.Config.Get().Recording.AVIReencode {
		o.startReencode(mount)
	}

	orphans, err := segment.ScanOrphans(mount, o.opts.Location, o.opts.InUse)
	if err != nil {
		reg.SetNonFunctional(id, true)
		logger.Error().Err(err).Str(xglog.FieldEvent, "diskops.recovery_failed").Msg("scan for interrupted recordings failed")
		o.opts.Events.Emit(ctx, eventlog.CategorySystem, eventlog.SubtypeRecovery, id.String(), err.Error(), eventlog.StateFail)
		return fmt.Errorf("recover %s: %w", id, err)
	}
	for _, orphan := range orphans {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := segment.RepairDir(orphan.Dir); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldPath, orphan.Dir).Msg("segment repair failed")
		}
		if err := segment.Release(orphan); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldPath, orphan.Dir).Msg("release of interrupted folder failed")
		}
	}

	n, err := o.rebuildIndex(ctx, mount)
	if err != nil {
		reg.SetNonFunctional(id, true)
		logger.Error().Err(err).Str(xglog.FieldEvent, "diskops.recovery_failed").Msg("index rebuild failed")
		o.opts.Events.Emit(ctx, eventlog.CategorySystem, eventlog.SubtypeRecovery, id.String(), err.Error(), eventlog.StateFail)
		return fmt.Errorf("recover %s: %w", id, err)
	}

	reg.SetNonFunctional(id, false)
	if h := reg.Health(id); h == volume.HealthNoDisk || h == volume.HealthError {
		reg.SetHealth(id, volume.HealthNormal)
	}
	if target {
		reg.SetDriveAction(drive, volume.ActionNormal)
	}
	if o.opts.Storage != nil {
		o.opts.Storage.CheckAll(ctx)
	}
	logger.Info().
		Str(xglog.FieldEvent, "diskops.recovery_done").
		Int("orphans", len(orphans)).
		Int("entries", n).
		Msg("media recovered")
	o.opts.Events.Emit(ctx, eventlog.CategorySystem, eventlog.SubtypeRecovery, id.String(),
		fmt.Sprintf("orphans=%d entries=%d", len(orphans), n), eventlog.StateDone)
	return nil
}

// startReencode launches the checkpoint re-encode worker for mount. It does
// not wait for it.
func (o *Orchestrator) startReencode(mount string) {
	if o.opts.Reencoder == nil || o.opts.Checkpoints == nil {
		return
	}
	cameras := 0
	if o.opts.Config != nil {
		cameras = o.opts.Config.Get().Cameras
	}
	recs := o.opts.Checkpoints.LoadAll(cameras)
	if len(recs) == 0 {
		return
	}
	_, err := o.start(o.reencode, "re-encode", func(ctx context.Context) error {
		logger := xglog.WithContext(ctx, o.logger)
		for cam := 1; cam <= cameras; cam++ {
			rec, ok := recs[cam]
			if !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := o.opts.Reencoder.Reencode(ctx, mount, rec); err != nil {
				logger.Warn().Err(err).Int(xglog.FieldCamera, cam).Msg("re-encode failed, checkpoint kept")
				continue
			}
			if err := o.opts.Checkpoints.Remove(cam); err != nil {
				logger.Warn().Err(err).Int(xglog.FieldCamera, cam).Msg("checkpoint removal failed")
			}
		}
		return nil
	})
	if err != nil {
		o.logger.Warn().Err(err).Msg("re-encode worker not started")
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diskops

import (
	"context"
	"fmt"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/telemetry"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
)

// Format erases media id. It returns the job id, ErrBusy ("unable to
// format") while another format runs, or ErrProcess if no worker started.
func (o *Orchestrator) Format(id volume.ID) (string, error) {
	mount, err := o.mount(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFormattable, err)
	}
	if o.opts.Formatter == nil {
		return "", fmt.Errorf("%w: no formatter configured", ErrNotFormattable)
	}
	dev := o.device(id, mount)
	return o.start(o.format, "format", func(ctx context.Context) error {
		return o.runFormat(ctx, dev)
	})
}

func (o *Orchestrator) runFormat(ctx context.Context, dev Device) (err error) {
	ctx, span := telemetry.Tracer("nvr/diskops").Start(ctx, "diskops.format")
	drive := dev.ID.Drive()
	span.SetAttributes(telemetry.VolumeAttributes(dev.ID.String(), drive.String(), dev.MountPoint)...)
	defer func() { telemetry.Finish(span, err) }()

	logger := xglog.WithContext(ctx, o.logger).With().
		Str(xglog.FieldVolume, dev.ID.String()).
		Str(xglog.FieldMountPoint, dev.MountPoint).
		Logger()
	reg := o.opts.Registry

	reg.SetBuildInProgress(dev.ID, true)
	defer reg.SetBuildInProgress(dev.ID, false)
	reg.SetDriveAction(drive, volume.ActionFormat)
	suspended := o.opts.Recording.Suspend(drive)
	defer func() {
		reg.SetDriveAction(drive, volume.ActionNormal)
		if suspended {
			o.opts.Recording.ResumeSuspended(drive)
		}
	}()

	logger.Info().Str(xglog.FieldEvent, "diskops.format_started").Bool("suspended", suspended).Msg("formatting media")
	o.opts.Events.Emit(ctx, eventlog.CategorySystem, eventlog.SubtypeFormat, dev.ID.String(), dev.MountPoint, eventlog.StateStart)

	if err := o.opts.Formatter.Format(ctx, dev); err != nil {
		reg.SetNonFunctional(dev.ID, true)
		reg.SetHealth(dev.ID, volume.HealthError)
		logger.Error().Err(err).Str(xglog.FieldEvent, "diskops.format_failed").Msg("format failed")
		o.opts.Events.Emit(ctx, eventlog.CategorySystem, eventlog.SubtypeFormat, dev.ID.String(), err.Error(), eventlog.StateFail)
		return fmt.Errorf("format %s: %w", dev.ID, err)
	}

	reg.SetNonFunctional(dev.ID, false)
	reg.SetStatus(dev.ID, volume.StatusNormal)
	reg.SetHealth(dev.ID, volume.HealthNormal)

	if _, err := o.rebuildIndex(ctx, dev.MountPoint); err != nil {
		logger.Warn().Err(err).Msg("index regeneration after format failed")
	}
	// Capacity checks skip drives with an action pending.
	reg.SetDriveAction(drive, volume.ActionNormal)
	if o.opts.Storage != nil {
		o.opts.Storage.CheckAll(ctx)
	}
	logger.Info().Str(xglog.FieldEvent, "diskops.format_done").Msg("media formatted")
	o.opts.Events.Emit(ctx, eventlog.CategorySystem, eventlog.SubtypeFormat, dev.ID.String(), dev.MountPoint, eventlog.StateDone)
	return nil
}

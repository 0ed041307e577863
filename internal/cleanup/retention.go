// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cleanup

import (
	"context"
	"fmt"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/fsutil"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/index"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/layout"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/metrics"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/telemetry"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
)

type mounted struct {
	id    volume.ID
	mount string
}

// sweepVolumes lists every configured volume that can be swept now.
func (e *Engine) sweepVolumes() []mounted {
	var out []mounted
	for _, l := range e.opts.Volumes.Locals() {
		if e.usable(l.ID, l.MountPoint) {
			out = append(out, mounted{id: l.ID, mount: l.MountPoint})
		}
	}
	for _, id := range []volume.ID{volume.NAS1, volume.NAS2} {
		if mp, ok := e.opts.Volumes.MountPoint(id); ok && e.usable(id, mp) {
			out = append(out, mounted{id: id, mount: mp})
		}
	}
	return out
}

// RunRetention deletes hour folders older than each camera's retention
// cutoff on every volume. Empty hour folders are removed regardless of age.
func (e *Engine) RunRetention(ctx context.Context) (Report, error) {
	var report Report
	cfg := e.opts.Config.Get()
	if !cfg.Storage.Retention.Enabled {
		return report, nil
	}

	ctx, span := telemetry.Tracer("nvr/cleanup").Start(ctx, "cleanup.retention")
	logger := xglog.WithContext(ctx, e.logger)
	logger.Info().Str(xglog.FieldEvent, "cleanup.retention_started").
		Str("policy", cfg.Storage.Retention.Policy).Msg("retention sweep started")

	var err error
	for _, v := range e.sweepVolumes() {
		if err = e.retainVolume(ctx, cfg, v, &report); err != nil {
			break
		}
	}

	span.SetAttributes(telemetry.CleanupAttributes(string(KindRetention), 0, 0, report.Bytes, report.Folders)...)
	telemetry.Finish(span, err)
	e.recordRun(KindRetention, err)
	if report.Folders > 0 {
		e.opts.Events.Emit(ctx, eventlog.CategoryStorage, eventlog.SubtypeRetention, "",
			fmt.Sprintf("removed %d folders", report.Folders), eventlog.StateDone)
	}
	logger.Info().Str(xglog.FieldEvent, "cleanup.retention_finished").
		Int("folders", report.Folders).Uint64("freed_bytes", report.Bytes).Msg("retention sweep finished")
	return report, err
}

func (e *Engine) retainVolume(ctx context.Context, cfg config.Snapshot, v mounted, report *Report) error {
	now := e.opts.Now().In(e.opts.Location)
	for cam := 1; cam <= cfg.Cameras; cam++ {
		days := cfg.Storage.Retention.RetentionDays(cam)
		if days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -days)

		folders, err := layout.HourFolders(v.mount, cam, e.opts.Location)
		if err != nil {
			e.logger.Warn().Err(err).Int(xglog.FieldCamera, cam).Str(xglog.FieldMountPoint, v.mount).Msg("list hour folders")
			continue
		}
		for _, f := range folders {
			if err := ctx.Err(); err != nil {
				return err
			}
			c := candidate{volume: v.id, mount: v.mount, folder: f}
			if empty, err := fsutil.IsEmptyDir(f.Path); err == nil && empty {
				_ = e.remove(v.mount, f.Path)
				continue
			}
			if !f.Time.Before(cutoff) || skipped(f) {
				continue
			}
			size, _ := fsutil.DirSize(f.Path)
			if err := e.deleteHourFolder(ctx, c, index.RemoveRetention); err != nil {
				report.Retries++
				metrics.RecordCleanupRetry(string(KindRetention))
				e.logger.Warn().Err(err).Str(xglog.FieldPath, f.Path).Msg("retention delete failed, retrying later")
				if err := sleep(ctx, e.opts.RetryDelay); err != nil {
					return err
				}
				continue
			}
			report.Folders++
			report.Bytes += size
			metrics.RecordCleanupDelete(string(KindRetention), size)
		}
	}
	return nil
}

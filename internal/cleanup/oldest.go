// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cleanup

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/fsutil"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/index"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/layout"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/metrics"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/telemetry"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
)

type candidate struct {
	volume volume.ID
	mount  string
	folder layout.Folder
}

// skipped reports whether an hour folder or its day folder is marked.
func skipped(f layout.Folder) bool {
	return layout.IsSkipped(f.Path) || layout.IsSkipped(filepath.Dir(f.Path))
}

// RunDeleteOldest removes the oldest hour folders on the volumes in mask
// until targetBytes were freed, nothing is left, or ctx is done.
func (e *Engine) RunDeleteOldest(ctx context.Context, mask uint32, targetBytes uint64) (Report, error) {
	ctx, span := telemetry.Tracer("nvr/cleanup").Start(ctx, "cleanup.delete_oldest")
	logger := xglog.WithContext(ctx, e.logger).With().Uint32("volume_mask", mask).Uint64("target_bytes", targetBytes).Logger()
	logger.Info().Str(xglog.FieldEvent, "cleanup.oldest_started").Msg("deleting oldest recordings")

	var report Report
	seen := make(map[string]struct{})
	err := func() error {
		for report.Bytes < targetBytes {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, ok := e.oldestFolder(mask, seen)
			if !ok {
				logger.Warn().Str(xglog.FieldEvent, "cleanup.oldest_exhausted").
					Uint64("freed_bytes", report.Bytes).Msg("no more folders to delete")
				return nil
			}
			seen[c.folder.Path] = struct{}{}

			size, _ := fsutil.DirSize(c.folder.Path)
			if err := e.deleteHourFolder(ctx, c, index.RemoveOverwrite); err != nil {
				report.Retries++
				metrics.RecordCleanupRetry(string(KindDeleteOldest))
				logger.Warn().Err(err).Str(xglog.FieldPath, c.folder.Path).
					Str(xglog.FieldEvent, "cleanup.delete_retry").Msg("folder busy, retrying later")
				if err := sleep(ctx, e.opts.RetryDelay); err != nil {
					return err
				}
				continue
			}
			report.Folders++
			report.Bytes += size
			metrics.RecordCleanupDelete(string(KindDeleteOldest), size)
			logger.Debug().Str(xglog.FieldPath, c.folder.Path).Uint64("bytes", size).Msg("folder deleted")
		}
		return nil
	}()

	span.SetAttributes(telemetry.CleanupAttributes(string(KindDeleteOldest), mask, targetBytes, report.Bytes, report.Folders)...)
	telemetry.Finish(span, err)
	e.recordRun(KindDeleteOldest, err)
	e.opts.Events.Emit(ctx, eventlog.CategoryStorage, eventlog.SubtypeCleanup,
		fmt.Sprintf("mask=%#x", mask),
		fmt.Sprintf("freed %d bytes in %d folders", report.Bytes, report.Folders),
		eventlog.StateDone)
	logger.Info().Str(xglog.FieldEvent, "cleanup.oldest_finished").
		Int("folders", report.Folders).Uint64("freed_bytes", report.Bytes).Int("retries", report.Retries).
		Msg("delete oldest finished")
	return report, err
}

// oldestFolder finds the oldest deletable hour folder across mask. Empty
// folders met on the way are removed.
func (e *Engine) oldestFolder(mask uint32, seen map[string]struct{}) (candidate, bool) {
	var best candidate
	found := false
	for _, id := range volume.MaskIDs(mask) {
		mount, ok := e.opts.Volumes.MountPoint(id)
		if !ok || !e.usable(id, mount) {
			continue
		}
		cams, err := layout.Cameras(mount)
		if err != nil {
			e.logger.Debug().Err(err).Str(xglog.FieldMountPoint, mount).Msg("list cameras")
			continue
		}
		for _, cam := range cams {
			folders, err := layout.HourFolders(mount, cam, e.opts.Location)
			if err != nil {
				continue
			}
			for _, f := range folders {
				if _, ok := seen[f.Path]; ok || skipped(f) {
					continue
				}
				if empty, err := fsutil.IsEmptyDir(f.Path); err == nil && empty {
					_ = e.remove(mount, f.Path)
					continue
				}
				if !found || f.Before(best.folder) {
					best = candidate{volume: id, mount: mount, folder: f}
					found = true
				}
				break
			}
		}
	}
	return best, found
}

// deleteHourFolder removes the index rows of one hour folder and then the
// folder itself, holding the drive's index lock.
func (e *Engine) deleteHourFolder(ctx context.Context, c candidate, mode index.RemoveMode) error {
	if e.opts.Index != nil {
		unlock := e.opts.Index.LockDrive(c.mount)
		defer unlock()
		if err := e.opts.Index.RemoveFolder(ctx, c.mount, c.folder.Camera, c.folder.Time, mode); err != nil {
			e.logger.Warn().Err(err).Str(xglog.FieldPath, c.folder.Path).Msg("index removal failed")
		}
	}
	return e.remove(c.mount, c.folder.Path)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/fsutil"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/ftpclient"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/jobs"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/layout"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/metrics"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/telemetry"
)

// BackupState is the state of the backup retention job.
type BackupState int

const (
	BackupInactive BackupState = iota
	BackupActive
	BackupInterrupted
)

func (s BackupState) String() string {
	switch s {
	case BackupActive:
		return "active"
	case BackupInterrupted:
		return "interrupted"
	default:
		return "inactive"
	}
}

// FTP walk levels below the backup root.
const (
	levelRoot = iota
	levelCamera
)

type backupJob struct {
	slot *jobs.Slot

	mu sync.Mutex
	st BackupState

	// Walk position, valid while a sweep runs.
	ftpIndex        int
	currentDirLevel int
	camera          int
}

func (j *backupJob) state() BackupState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.st
}

func (j *backupJob) setState(s BackupState) {
	j.mu.Lock()
	j.st = s
	j.mu.Unlock()
}

// interrupted is polled between operations.
func (j *backupJob) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j.state() == BackupInterrupted {
		return context.Canceled
	}
	return nil
}

// dayCutoff is midnight of the first day kept for a camera.
func (e *Engine) dayCutoff(days int) time.Time {
	now := e.opts.Now().In(e.opts.Location)
	mid := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.opts.Location)
	return mid.AddDate(0, 0, -days)
}

// RunBackup deletes backup day folders older than each camera's backup
// retention on the configured target.
func (e *Engine) RunBackup(ctx context.Context) (Report, error) {
	var report Report
	cfg := e.opts.Config.Get().Backup
	if !cfg.Enabled {
		return report, nil
	}

	ctx, span := telemetry.Tracer("nvr/cleanup").Start(ctx, "cleanup.backup")
	logger := xglog.WithContext(ctx, e.logger).With().Str(xglog.FieldMedia, cfg.Target).Logger()
	logger.Info().Str(xglog.FieldEvent, "cleanup.backup_started").Msg("backup retention sweep started")

	var err error
	switch cfg.Target {
	case config.BackupUSB:
		err = e.backupLocal(ctx, cfg, cfg.USBRoot, &report)
	case config.BackupNAS:
		err = e.backupLocal(ctx, cfg, cfg.NASRoot, &report)
	case config.BackupFTP:
		err = e.backupFTP(ctx, cfg, &report)
	default:
		err = fmt.Errorf("%w: %q", ErrNoBackupTarget, cfg.Target)
	}

	span.SetAttributes(telemetry.CleanupAttributes(string(KindBackup), 0, 0, report.Bytes, report.Folders)...)
	telemetry.Finish(span, err)
	e.recordRun(KindBackup, err)
	e.opts.Events.Emit(ctx, eventlog.CategoryBackup, eventlog.SubtypeBackupCleanup, cfg.Target,
		fmt.Sprintf("removed %d folders", report.Folders), eventlog.StateDone)
	logger.Info().Str(xglog.FieldEvent, "cleanup.backup_finished").
		Int("folders", report.Folders).Msg("backup retention sweep finished")
	return report, err
}

func (e *Engine) backupLocal(ctx context.Context, cfg config.BackupConfig, root string, report *Report) error {
	if root == "" {
		return ErrNoBackupTarget
	}
	cams, err := layout.Cameras(root)
	if err != nil {
		return fmt.Errorf("list backup cameras: %w", err)
	}
	for _, cam := range cams {
		days := cfg.BackupDays(cam)
		if days <= 0 {
			continue
		}
		cutoff := e.dayCutoff(days)
		folders, err := layout.Days(root, cam, e.opts.Location)
		if err != nil {
			continue
		}
		for _, d := range folders {
			if err := e.backup.interrupted(ctx); err != nil {
				return err
			}
			if !d.Time.Before(cutoff) {
				break
			}
			if layout.IsSkipped(d.Path) {
				continue
			}
			size, _ := fsutil.DirSize(d.Path)
			if err := e.remove(root, d.Path); err != nil {
				report.Retries++
				metrics.RecordCleanupRetry(string(KindBackup))
				e.logger.Warn().Err(err).Str(xglog.FieldPath, d.Path).Msg("backup folder delete failed")
				if err := sleep(ctx, e.opts.RetryDelay); err != nil {
					return err
				}
				continue
			}
			report.Folders++
			report.Bytes += size
			metrics.RecordCleanupDelete(string(KindBackup), size)
		}
	}
	return nil
}

func (e *Engine) backupFTP(ctx context.Context, cfg config.BackupConfig, report *Report) error {
	if e.opts.FTP == nil {
		return ErrNoBackupTarget
	}
	style, err := e.opts.FTP.FSType(ctx)
	if err != nil {
		return fmt.Errorf("resolve ftp filesystem: %w", err)
	}
	root := cfg.FTP.Root
	if root == "" {
		root = "/"
	}

	j := e.backup
	j.mu.Lock()
	j.currentDirLevel = levelRoot
	j.ftpIndex = 0
	j.mu.Unlock()
	return e.walkFTP(ctx, cfg, style, root, report)
}

// walkFTP lists dir and acts on its folders according to the current level:
// camera folders are descended into, day folders past the cutoff are removed.
func (e *Engine) walkFTP(ctx context.Context, cfg config.BackupConfig, style, dir string, report *Report) error {
	entries, err := e.opts.FTP.List(ctx, dir)
	if err != nil {
		return fmt.Errorf("ftp list %s: %w", dir, err)
	}
	j := e.backup
	for i, ent := range entries {
		if err := j.interrupted(ctx); err != nil {
			return err
		}
		if !ent.Dir {
			continue
		}
		j.mu.Lock()
		j.ftpIndex = i
		level, cam := j.currentDirLevel, j.camera
		j.mu.Unlock()

		switch level {
		case levelRoot:
			n, ok := layout.ParseCameraDir(ent.Name)
			if !ok || cfg.BackupDays(n) <= 0 {
				continue
			}
			j.mu.Lock()
			j.camera = n
			j.currentDirLevel = levelCamera
			j.mu.Unlock()
			err := e.walkFTP(ctx, cfg, style, ftpclient.Join(style, dir, ent.Name), report)
			j.mu.Lock()
			j.currentDirLevel = levelRoot
			j.mu.Unlock()
			if err != nil {
				return err
			}
		case levelCamera:
			t, ok := layout.ParseDayDir(ent.Name, e.opts.Location)
			if !ok || !t.Before(e.dayCutoff(cfg.BackupDays(cam))) {
				continue
			}
			target := ftpclient.Join(style, dir, ent.Name)
			if err := e.opts.FTP.RemoveDir(ctx, target); err != nil {
				e.logger.Warn().Err(err).Str(xglog.FieldPath, target).Msg("ftp day folder delete failed")
				continue
			}
			report.Folders++
			metrics.RecordCleanupDelete(string(KindBackup), 0)
		}
	}
	return nil
}

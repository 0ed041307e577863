// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cleanup reclaims recording space. It runs three independent jobs:
// delete-oldest by size, retention by day, and backup retention (USB, NAS or
// FTP). Each job kind holds one slot; asking for a running kind is a no-op.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/fsutil"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/ftpclient"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/index"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/jobs"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/metrics"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
	"github.com/rs/zerolog"
)

// Kind names a cleanup job slot.
type Kind string

const (
	KindDeleteOldest Kind = "delete_oldest"
	KindRetention    Kind = "retention"
	KindBackup       Kind = "backup_cleanup"
)

// DefaultRetryDelay is the wait after a folder could not be removed.
const DefaultRetryDelay = 5 * time.Second

// Result tells a caller what a request did.
type Result int

const (
	Started Result = iota
	AlreadyRunning
)

func (r Result) String() string {
	if r == AlreadyRunning {
		return "already_running"
	}
	return "started"
}

// Report summarises one finished run.
type Report struct {
	Folders int
	Bytes   uint64
	Retries int
}

// Index is the recording index as seen by cleanup.
type Index interface {
	LockDrive(mount string) func()
	RemoveFolder(ctx context.Context, mount string, camera int, hour time.Time, mode index.RemoveMode) error
}

// FTPClient is the remote backup target.
type FTPClient interface {
	List(ctx context.Context, dir string) ([]ftpclient.Entry, error)
	RemoveDir(ctx context.Context, dir string) error
	FSType(ctx context.Context) (string, error)
}

// Volumes resolves volume mount points.
type Volumes interface {
	MountPoint(id volume.ID) (string, bool)
	Locals() []volume.Local
}

// ConfigSource returns the current configuration.
type ConfigSource interface {
	Get() config.Snapshot
}

// Options wires an Engine.
type Options struct {
	Pool       *jobs.Pool
	Volumes    Volumes
	Health     volume.HealthReader
	Index      Index
	FTP        FTPClient
	Config     ConfigSource
	Events     *eventlog.Emitter
	Location   *time.Location
	Now        func() time.Time
	RetryDelay time.Duration
}

// Engine owns the cleanup job slots.
type Engine struct {
	opts   Options
	logger zerolog.Logger

	oldest    *jobs.Slot
	retention *jobs.Slot
	backup    *backupJob

	// remove deletes one folder below a root.
	remove func(root, dir string) error

	mu         sync.Mutex
	onComplete func(ctx context.Context, mask uint32)
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Engine{
		opts:      opts,
		logger:    xglog.WithComponent("cleanup"),
		oldest:    jobs.NewSlot(string(KindDeleteOldest), opts.Pool),
		retention: jobs.NewSlot(string(KindRetention), opts.Pool),
		backup:    &backupJob{slot: jobs.NewSlot(string(KindBackup), opts.Pool)},
		remove:    removeFolder,
	}
}

// OnComplete registers fn to run after every delete-oldest run with the
// volume mask it worked on. The capacity monitor uses it to re-evaluate. fn
// runs after the slot is released and may start another run.
func (e *Engine) OnComplete(fn func(ctx context.Context, mask uint32)) {
	e.mu.Lock()
	e.onComplete = fn
	e.mu.Unlock()
}

func (e *Engine) completed(ctx context.Context, mask uint32) {
	e.mu.Lock()
	fn := e.onComplete
	e.mu.Unlock()
	if fn != nil {
		fn(ctx, mask)
	}
}

func (e *Engine) slot(k Kind) (*jobs.Slot, error) {
	switch k {
	case KindDeleteOldest:
		return e.oldest, nil
	case KindRetention:
		return e.retention, nil
	case KindBackup:
		return e.backup.slot, nil
	default:
		return nil, fmt.Errorf("unknown cleanup kind %q", k)
	}
}

// start launches fn in the slot of k. A busy slot is reported as
// AlreadyRunning. then, if set, runs once the slot is free again.
func (e *Engine) start(k Kind, fn jobs.Func, then func(ctx context.Context)) (Result, error) {
	s, err := e.slot(k)
	if err != nil {
		return Started, err
	}
	if _, err := s.TryStartThen(fn, then); err != nil {
		if errors.Is(err, jobs.ErrBusy) {
			return AlreadyRunning, nil
		}
		return Started, err
	}
	return Started, nil
}

// DeleteOldest starts freeing targetBytes from the volumes in mask.
func (e *Engine) DeleteOldest(mask uint32, targetBytes uint64) (Result, error) {
	return e.start(KindDeleteOldest, func(ctx context.Context) error {
		_, err := e.RunDeleteOldest(ctx, mask, targetBytes)
		return err
	}, func(ctx context.Context) {
		e.completed(ctx, mask)
	})
}

// RetentionByDay starts a retention sweep over every volume.
func (e *Engine) RetentionByDay() (Result, error) {
	return e.start(KindRetention, func(ctx context.Context) error {
		_, err := e.RunRetention(ctx)
		return err
	}, nil)
}

// BackupCleanup starts a backup retention sweep on the configured target.
func (e *Engine) BackupCleanup() (Result, error) {
	return e.start(KindBackup, func(ctx context.Context) error {
		e.backup.setState(BackupActive)
		defer e.backup.setState(BackupInactive)
		_, err := e.RunBackup(ctx)
		return err
	}, nil)
}

// Cancel requests the job of kind k to stop after its current unit of work.
func (e *Engine) Cancel(k Kind) error {
	s, err := e.slot(k)
	if err != nil {
		return err
	}
	if k == KindBackup && s.Running() {
		e.backup.setState(BackupInterrupted)
	}
	s.Cancel()
	return nil
}

// StopAndWait cancels k and waits up to timeout for it to unwind.
func (e *Engine) StopAndWait(k Kind, timeout time.Duration) bool {
	s, err := e.slot(k)
	if err != nil {
		return true
	}
	if k == KindBackup && s.Running() {
		e.backup.setState(BackupInterrupted)
	}
	return s.StopAndWait(timeout)
}

// Running reports whether a job of kind k is in progress.
func (e *Engine) Running(k Kind) bool {
	s, err := e.slot(k)
	return err == nil && s.Running()
}

// Status returns the slot status of k.
func (e *Engine) Status(k Kind) (jobs.Status, error) {
	s, err := e.slot(k)
	if err != nil {
		return jobs.Status{}, err
	}
	return s.Status(), nil
}

// BackupState returns the backup job state.
func (e *Engine) BackupState() BackupState { return e.backup.state() }

// Shutdown stops every job, waiting up to timeout for each.
func (e *Engine) Shutdown(timeout time.Duration) {
	for _, k := range []Kind{KindDeleteOldest, KindRetention, KindBackup} {
		e.StopAndWait(k, timeout)
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// removeFolder deletes dir confined to root and then its parent if it is
// left empty and is not root.
func removeFolder(root, dir string) error {
	if err := fsutil.RemoveConfined(root, dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	if filepath.Clean(parent) == filepath.Clean(root) {
		return nil
	}
	if empty, err := fsutil.IsEmptyDir(parent); err == nil && empty {
		_ = fsutil.RemoveConfined(root, parent)
	}
	return nil
}

// usable reports whether the volume at mount may be swept.
func (e *Engine) usable(id volume.ID, mount string) bool {
	if mount == "" {
		return false
	}
	if e.opts.Health != nil && e.opts.Health.Health(id) == volume.HealthNoDisk {
		return false
	}
	fi, err := os.Stat(mount)
	return err == nil && fi.IsDir()
}

func (e *Engine) recordRun(mode Kind, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}
	metrics.RecordCleanupRun(string(mode), outcome)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package diskops orchestrates maintenance on recording media: format,
// post-mount recovery, backup device unplug and configuration changes. Each
// operation kind runs as a single-instance job that suspends recording on
// the affected drive and resumes it afterwards.
package diskops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/checkpoint"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/jobs"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
	"github.com/rs/zerolog"
)

// Job kinds.
const (
	KindFormat       = "format"
	KindRecovery     = "recovery"
	KindUnplug       = "unplug"
	KindConfigChange = "config_change"
	KindReencode     = "reencode"
)

// Device is the media handed to a Formatter.
type Device struct {
	ID         volume.ID
	MountPoint string
	Path       string
}

// Formatter erases and re-creates the filesystem of a device.
type Formatter interface {
	Format(ctx context.Context, dev Device) error
}

// Unmounter detaches a backup device.
type Unmounter interface {
	Unmount(ctx context.Context, device string) error
}

// Reencoder repairs what an interrupted recording left behind in the hour
// folder named by a checkpoint.
type Reencoder interface {
	Reencode(ctx context.Context, mount string, rec checkpoint.Record) error
}

// IndexBuilder regenerates the recording index of a mount.
type IndexBuilder interface {
	LockDrive(mount string) func()
	Rebuild(ctx context.Context, mount string) (int, error)
}

// Registry is the volume health state touched by maintenance.
type Registry interface {
	Health(id volume.ID) volume.Health
	SetHealth(id volume.ID, h volume.Health) volume.Health
	SetStatus(id volume.ID, s volume.Status) volume.Status
	SetNonFunctional(id volume.ID, v bool)
	BuildInProgress(id volume.ID) bool
	SetBuildInProgress(id volume.ID, v bool)
	SetDriveAction(d volume.Drive, a volume.Action)
}

// Volumes is the topology as seen by maintenance.
type Volumes interface {
	MountPoint(id volume.ID) (string, bool)
	Locals() []volume.Local
	IsRecordingTarget(id volume.ID) bool
	Apply(cfg config.Snapshot) error
	Reselect(reg volume.HealthReader) []volume.Switch
}

// Recording suspends and resumes recording sessions.
type Recording interface {
	Suspend(d volume.Drive) bool
	ResumeSuspended(d volume.Drive)
	ApplyConfig(rc config.RecordingConfig)
	SwitchDrive(cams []int)
}

// Storage re-evaluates capacity.
type Storage interface {
	CheckAll(ctx context.Context)
}

// Checkpoints holds per-camera recovery checkpoints.
type Checkpoints interface {
	LoadAll(cameras int) map[int]checkpoint.Record
	Remove(camera int) error
}

// ConfigSource returns the current configuration.
type ConfigSource interface {
	Get() config.Snapshot
}

// UnplugCallback receives the outcome of an unplug request. It is called
// exactly once, from the worker.
type UnplugCallback func(device string, err error)

// Options wires an Orchestrator.
type Options struct {
	Pool        *jobs.Pool
	Registry    Registry
	Volumes     Volumes
	Recording   Recording
	Storage     Storage
	Index       IndexBuilder
	Formatter   Formatter
	Unmounter   Unmounter
	Reencoder   Reencoder
	Checkpoints Checkpoints
	Config      ConfigSource
	Events      *eventlog.Emitter
	Location    *time.Location
	// InUse reports folders that belong to segments open right now.
	InUse func(dir string) bool
}

// Orchestrator owns the maintenance job slots.
type Orchestrator struct {
	opts   Options
	logger zerolog.Logger

	format   *jobs.Slot
	recovery *jobs.Slot
	unplug   *jobs.Slot
	config   *jobs.Slot
	reencode *jobs.Slot
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Orchestrator{
		opts:     opts,
		logger:   xglog.WithComponent("diskops"),
		format:   jobs.NewSlot(KindFormat, opts.Pool),
		recovery: jobs.NewSlot(KindRecovery, opts.Pool),
		unplug:   jobs.NewSlot(KindUnplug, opts.Pool),
		config:   jobs.NewSlot(KindConfigChange, opts.Pool),
		reencode: jobs.NewSlot(KindReencode, opts.Pool),
	}
}

func (o *Orchestrator) slots() []*jobs.Slot {
	return []*jobs.Slot{o.format, o.recovery, o.unplug, o.config, o.reencode}
}

// start runs fn in s and maps slot errors to this package's errors.
func (o *Orchestrator) start(s *jobs.Slot, what string, fn jobs.Func) (string, error) {
	id, err := s.TryStart(fn)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, jobs.ErrBusy):
		return "", fmt.Errorf("unable to %s: %w", what, ErrBusy)
	default:
		o.logger.Error().Err(err).Str(xglog.FieldJobKind, s.Kind()).Msg("worker spawn failed")
		return "", fmt.Errorf("unable to %s: %w: %v", what, ErrProcess, err)
	}
}

// Status lists every maintenance slot.
func (o *Orchestrator) Status() []jobs.Status {
	out := make([]jobs.Status, 0, 5)
	for _, s := range o.slots() {
		out = append(out, s.Status())
	}
	return out
}

// Running reports whether a job of kind runs.
func (o *Orchestrator) Running(kind string) bool {
	for _, s := range o.slots() {
		if s.Kind() == kind {
			return s.Running()
		}
	}
	return false
}

// Shutdown stops every job, waiting up to timeout for each.
func (o *Orchestrator) Shutdown(timeout time.Duration) {
	for _, s := range o.slots() {
		s.StopAndWait(timeout)
	}
}

func (o *Orchestrator) mount(id volume.ID) (string, error) {
	mp, ok := o.opts.Volumes.MountPoint(id)
	if !ok || mp == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownMedia, id)
	}
	return mp, nil
}

func (o *Orchestrator) device(id volume.ID, mount string) Device {
	dev := Device{ID: id, MountPoint: mount}
	for _, l := range o.opts.Volumes.Locals() {
		if l.ID == id {
			dev.Path = l.Device
		}
	}
	return dev
}

// rebuildIndex regenerates the index of mount under its drive lock.
func (o *Orchestrator) rebuildIndex(ctx context.Context, mount string) (int, error) {
	if o.opts.Index == nil {
		return 0, nil
	}
	unlock := o.opts.Index.LockDrive(mount)
	defer unlock()
	n, err := o.opts.Index.Rebuild(ctx, mount)
	if err != nil {
		return 0, err
	}
	o.opts.Events.Emit(ctx, eventlog.CategorySystem, eventlog.SubtypeIndexRebuild, mount, fmt.Sprintf("entries=%d", n), eventlog.StateDone)
	return n, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the recorder daemon together and owns the lifecycle
// of its long-running subsystems.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/api"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/camera"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/capacity"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/checkpoint"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/cleanup"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/diskops"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/ftpclient"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/health"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/index"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/jobs"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/recorder"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/segment"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/telemetry"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/timer"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
	"github.com/rs/zerolog"
)

// ShutdownHook runs once while the daemon stops.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// App is the assembled daemon.
type App struct {
	logger zerolog.Logger
	holder *config.Holder
	deps   Deps

	pool        *jobs.Pool
	timers      *timer.Facility
	registry    *volume.Registry
	topology    *volume.Topology
	nas         *volume.SystemDrives
	index       *index.SQLite
	memory      *eventlog.Memory
	events      *eventlog.Emitter
	cleanup     *cleanup.Engine
	monitor     *capacity.Monitor
	hub         *camera.Hub
	writer      *segment.Writer
	checkpoints *checkpoint.Store
	recorder    *recorder.Manager
	diskops     *diskops.Orchestrator
	health      *health.Manager
	api         *api.Server

	mu        sync.Mutex
	running   bool
	hooks     []namedHook
	schedules []timer.Handle
}

// New assembles every subsystem from the current configuration. Nothing
// runs until Run. On error the partially built daemon is torn down.
func New(ctx context.Context, holder *config.Holder, deps Deps) (app *App, err error) {
	if holder == nil {
		return nil, ErrMissingConfig
	}
	a := &App{
		logger: xglog.WithComponent("daemon"),
		holder: holder,
		deps:   deps.withDefaults(),
	}
	defer func() {
		if err != nil {
			_ = a.shutdown(context.WithoutCancel(ctx))
		}
	}()

	cfg := holder.Get()
	if err := a.buildTelemetry(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.buildEvents(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.buildStorage(ctx, cfg); err != nil {
		return nil, err
	}
	a.buildRecording(cfg)
	a.buildMaintenance(cfg)
	a.buildAPI(cfg)
	return a, nil
}

func (a *App) buildTelemetry(ctx context.Context, cfg config.Snapshot) error {
	tp, err := telemetry.NewProvider(ctx, telemetry.FromSnapshot(cfg.Telemetry, a.deps.Version))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.RegisterShutdownHook("telemetry", tp.Shutdown)
	return nil
}

// buildEvents fans events out to the log, the in-memory history, the
// badger journal and redis. Journal and redis are optional.
func (a *App) buildEvents(ctx context.Context, cfg config.Snapshot) error {
	a.memory = eventlog.NewMemory(a.deps.EventHistory)
	sinks := eventlog.Multi{eventlog.NewLogSink(), a.memory}

	if dir := cfg.Events.JournalDir; dir != "" {
		j, err := eventlog.OpenJournal(dir, DefaultJournalTTL)
		if err != nil {
			return fmt.Errorf("event journal: %w", err)
		}
		a.RegisterShutdownHook("journal", func(context.Context) error { return j.Close() })
		sinks = append(sinks, j)
	}
	if addr := cfg.Events.RedisAddr; addr != "" {
		r, err := eventlog.NewRedis(ctx, eventlog.RedisConfig{Addr: addr, Channel: cfg.Events.RedisChannel, Keep: int64(a.deps.EventHistory)})
		if err != nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "daemon.redis_unavailable").Msg("event publishing disabled")
		} else {
			a.RegisterShutdownHook("redis", func(context.Context) error { return r.Close() })
			sinks = append(sinks, r)
		}
	}
	a.events = eventlog.NewEmitter(sinks)
	return nil
}

func (a *App) buildStorage(ctx context.Context, cfg config.Snapshot) error {
	topo, err := volume.NewTopology(cfg)
	if err != nil {
		return fmt.Errorf("topology: %w", err)
	}
	a.topology = topo
	a.registry = volume.NewRegistry()
	a.nas = volume.NewSystemDrives(topo, a.deps.Stat)
	if a.deps.Partitions != nil {
		a.nas.WithPartitions(a.deps.Partitions)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Index.Path), 0o750); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	idx, err := index.Open(ctx, cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("recording index: %w", err)
	}
	a.index = idx.WithLocation(a.deps.Location)
	a.RegisterShutdownHook("index", func(context.Context) error { return idx.Close() })

	store, err := checkpoint.NewStore(filepath.Join(cfg.DataDir, "checkpoint"))
	if err != nil {
		return err
	}
	a.checkpoints = store

	a.pool = jobs.NewPool(context.WithoutCancel(ctx), a.deps.Workers)
	a.RegisterShutdownHook("jobs", func(context.Context) error {
		if !a.pool.Close(a.deps.StopTimeout) {
			return errors.New("jobs still running")
		}
		return nil
	})
	a.timers = timer.New(a.deps.TimerTick)

	ftpc := cfg.Backup.FTP
	a.cleanup = cleanup.New(cleanup.Options{
		Pool:    a.pool,
		Volumes: topo,
		Health:  a.registry,
		Index:   a.index,
		FTP: ftpclient.New(ftpclient.Config{
			Addr:     ftpc.Addr,
			User:     ftpc.User,
			Password: ftpc.Password,
			Root:     ftpc.Root,
			Timeout:  ftpc.Timeout,
		}),
		Config:   a.holder,
		Events:   a.events,
		Location: a.deps.Location,
	})
	a.RegisterShutdownHook("cleanup", func(context.Context) error {
		a.cleanup.Shutdown(a.deps.StopTimeout)
		return nil
	})
	return nil
}

func (a *App) buildRecording(cfg config.Snapshot) {
	a.hub = camera.NewHub(cfg.Cameras, a.deps.FrameBuffer, a.deps.Pipeline)

	a.writer = segment.NewWriter(a.deps.Location)
	a.writer.SetHooks(segment.Hooks{
		Opened: func(cam int, _ string, hour time.Time) {
			if err := a.checkpoints.Save(checkpoint.FromTime(cam, hour)); err != nil {
				a.logger.Warn().Err(err).Int(xglog.FieldCamera, cam).Msg("checkpoint save failed")
			}
		},
		Closed: func(cam int) {
			if err := a.checkpoints.Remove(cam); err != nil {
				a.logger.Warn().Err(err).Int(xglog.FieldCamera, cam).Msg("checkpoint removal failed")
			}
		},
	})
	a.RegisterShutdownHook("segments", func(context.Context) error { return a.writer.CloseAll() })

	// The monitor and the recorder reference each other; the monitor is
	// created first and learns about sessions through a late-bound adapter.
	sessions := &lateSessions{}
	a.monitor = capacity.New(capacity.Options{
		Topology: a.topology,
		Registry: a.registry,
		Stat:     a.deps.Stat,
		NAS:      a.nas,
		Cleaner:  a.cleanup,
		Sessions: sessions,
		Config:   a.holder,
		Events:   a.events,
	})
	a.cleanup.OnComplete(a.monitor.AfterCleanup)

	a.recorder = recorder.New(recorder.Options{
		Cameras:   cfg.Cameras,
		Writer:    a.writer,
		Camera:    a.hub,
		Targets:   a.topology,
		Health:    a.registry,
		Monitor:   a.monitor,
		Events:    a.events,
		Timers:    a.timers,
		Recording: cfg.Recording,
	})
	sessions.set(a.recorder)
	a.hub.SetListener(a.recorder)
}

func (a *App) buildMaintenance(cfg config.Snapshot) {
	formatter := a.deps.Formatter
	if formatter == nil {
		if len(cfg.Storage.FormatCommand) > 0 {
			formatter = diskops.ExecFormatter{Command: cfg.Storage.FormatCommand}
		} else {
			formatter = diskops.WipeFormatter{}
		}
	}
	a.diskops = diskops.New(diskops.Options{
		Pool:        a.pool,
		Registry:    a.registry,
		Volumes:     a.topology,
		Recording:   a.recorder,
		Storage:     a.monitor,
		Index:       a.index,
		Formatter:   formatter,
		Unmounter:   a.deps.Unmounter,
		Reencoder:   diskops.SegmentRepairer{Location: a.deps.Location},
		Checkpoints: a.checkpoints,
		Config:      a.holder,
		Events:      a.events,
		Location:    a.deps.Location,
		InUse:       a.writer.InUse,
	})
	a.RegisterShutdownHook("diskops", func(context.Context) error {
		a.diskops.Shutdown(a.deps.StopTimeout)
		return nil
	})
}

func (a *App) buildAPI(cfg config.Snapshot) {
	a.health = health.NewManager(a.deps.Version)
	a.health.RegisterChecker(health.NewVolumeChecker(a.registry))
	a.health.RegisterChecker(health.NewDirChecker("data_dir", cfg.DataDir))
	a.health.RegisterChecker(health.NewFuncChecker("config_change", func(context.Context) health.CheckResult {
		if a.diskops.Running(diskops.KindConfigChange) {
			return health.CheckResult{Status: health.StatusDegraded, Message: "configuration change in progress"}
		}
		return health.CheckResult{Status: health.StatusHealthy}
	}))

	a.api = api.New(cfg.API, api.Deps{
		Recorder:    a.recorder,
		Maintenance: a.diskops,
		Cleanup:     a.cleanup,
		Volumes:     a.registry,
		Events:      a.memory,
		Probes:      a.health,
	})
}

// Handler returns the control API handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
// Hooks are executed in reverse registration order (LIFO).
func (a *App) RegisterShutdownHook(name string, hook ShutdownHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, namedHook{name: name, hook: hook})
}

func (a *App) shutdown(ctx context.Context) error {
	a.mu.Lock()
	hooks := a.hooks
	a.hooks = nil
	a.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, a.deps.StopTimeout)
	defer cancel()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		a.logger.Debug().Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// lateSessions forwards capacity decisions to the recorder once it exists.
type lateSessions struct {
	mu sync.RWMutex
	m  capacity.Sessions
}

func (l *lateSessions) set(m capacity.Sessions) {
	l.mu.Lock()
	l.m = m
	l.mu.Unlock()
}

func (l *lateSessions) get() capacity.Sessions {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.m
}

func (l *lateSessions) Interrupt(cams []int) {
	if m := l.get(); m != nil {
		m.Interrupt(cams)
	}
}

func (l *lateSessions) Resume(cams []int) {
	if m := l.get(); m != nil {
		m.Resume(cams)
	}
}

func (l *lateSessions) SwitchDrive(cams []int) {
	if m := l.get(); m != nil {
		m.SwitchDrive(cams)
	}
}

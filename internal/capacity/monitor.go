// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package capacity evaluates free space on recording targets and enforces
// the full-disk policy: volume switches inside a storage group, alerts,
// deletion requests, and the NAS record-remove cooldown.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/cleanup"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/diskstat"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/metrics"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const gib = 1 << 30

// Space thresholds.
const (
	// MinFreeBytes is the free space below which a volume counts as full.
	MinFreeBytes uint64 = 10 * gib
	// HardFloorBytes is the free space below which recording stops at once.
	HardFloorBytes uint64 = 1 * gib
	// OverwriteReclaimBytes is what one overwrite pass frees.
	OverwriteReclaimBytes uint64 = 10 * gib
	// MaxCleanupPercent caps the cleanup policy.
	MaxCleanupPercent = 90
)

// DefaultNotifyInterval rate-limits write-driven checks per camera.
const DefaultNotifyInterval = 5 * time.Second

// Outcome is what one evaluation decided.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNoTarget
	OutcomeUnhealthy
	OutcomeBusy
	OutcomeSwitched
	OutcomeQueryFailed
	OutcomeLow
	OutcomeFull
	OutcomeCleanup
	OutcomeCooldown
)

var outcomeNames = [...]string{"ok", "no_target", "unhealthy", "busy", "switched", "query_failed", "low", "full", "cleanup", "cooldown"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Cleaner starts space reclamation.
type Cleaner interface {
	DeleteOldest(mask uint32, targetBytes uint64) (cleanup.Result, error)
}

// Sessions is the recording side the monitor drives.
type Sessions interface {
	// Interrupt stops writing for cameras while keeping their record types.
	Interrupt(cameras []int)
	// Resume restarts interrupted cameras.
	Resume(cameras []int)
	// SwitchDrive moves recording cameras onto their new target.
	SwitchDrive(cameras []int)
}

// ConfigSource returns the current configuration.
type ConfigSource interface {
	Get() config.Snapshot
}

// Options wires a Monitor.
type Options struct {
	Topology       *volume.Topology
	Registry       *volume.Registry
	Stat           diskstat.Stater
	NAS            volume.NetworkDrives
	Cleaner        Cleaner
	Sessions       Sessions
	Config         ConfigSource
	Events         *eventlog.Emitter
	NotifyInterval time.Duration
}

// Monitor is the storage capacity monitor.
type Monitor struct {
	opts   Options
	logger zerolog.Logger
	notify chan int

	mu       sync.Mutex
	wasFull  map[string]bool
	lowMem   map[volume.ID]bool
	limiters map[int]*rate.Limiter
	// nasRemoveAllowed is cleared after a deletion on any NAS slot and set
	// again once a NAS reports more than MinFreeBytes free.
	nasRemoveAllowed bool

	warnCooldown rate.Sometimes
	warnFailFast rate.Sometimes
	warnQuery    rate.Sometimes
}

// New creates a monitor.
func New(opts Options) *Monitor {
	if opts.NotifyInterval <= 0 {
		opts.NotifyInterval = DefaultNotifyInterval
	}
	return &Monitor{
		opts:             opts,
		logger:           xglog.WithComponent("capacity"),
		notify:           make(chan int, 64),
		wasFull:          make(map[string]bool),
		lowMem:           make(map[volume.ID]bool),
		limiters:         make(map[int]*rate.Limiter),
		nasRemoveAllowed: true,
		warnCooldown:     rate.Sometimes{Interval: 30 * time.Second},
		warnFailFast:     rate.Sometimes{Interval: 30 * time.Second},
		warnQuery:        rate.Sometimes{Interval: 30 * time.Second},
	}
}

// NASRemoveAllowed reports whether the NAS cooldown is clear.
func (m *Monitor) NASRemoveAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nasRemoveAllowed
}

// Notify queues a write-driven check for camera, at most once per
// NotifyInterval per camera. It never blocks.
func (m *Monitor) Notify(camera int) {
	m.mu.Lock()
	lim, ok := m.limiters[camera]
	if !ok {
		lim = rate.NewLimiter(rate.Every(m.opts.NotifyInterval), 1)
		m.limiters[camera] = lim
	}
	m.mu.Unlock()
	if !lim.Allow() {
		return
	}
	select {
	case m.notify <- camera:
	default:
	}
}

// AfterCleanup re-evaluates the cameras recording to volumes in mask.
func (m *Monitor) AfterCleanup(ctx context.Context, mask uint32) {
	for _, id := range volume.MaskIDs(mask) {
		for _, cam := range m.opts.Topology.CamerasOn(id) {
			_, _ = m.UpdateStorage(ctx, cam)
		}
	}
	m.RefreshIdle(ctx)
}

// Run serves queued checks and runs a full pass every check interval.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.opts.Config.Get().Storage.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cam := <-m.notify:
			_, _ = m.UpdateStorage(ctx, cam)
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll evaluates every camera and refreshes volumes nobody records to.
func (m *Monitor) CheckAll(ctx context.Context) {
	for cam := 1; cam <= m.opts.Topology.Cameras(); cam++ {
		if ctx.Err() != nil {
			return
		}
		_, _ = m.UpdateStorage(ctx, cam)
	}
	m.RefreshIdle(ctx)
}

// RefreshIdle returns Full local volumes that are no recording target to
// Normal once they have room again.
func (m *Monitor) RefreshIdle(ctx context.Context) {
	for _, l := range m.opts.Topology.Locals() {
		if m.opts.Registry.Health(l.ID) != volume.HealthFull || m.opts.Topology.IsRecordingTarget(l.ID) {
			continue
		}
		u, err := m.opts.Stat.Usage(ctx, l.MountPoint)
		if err != nil || u.Free < MinFreeBytes {
			continue
		}
		m.opts.Registry.SetHealth(l.ID, volume.HealthNormal)
		m.opts.Registry.SetStatus(l.ID, volume.StatusNormal)
	}
}

func latchKey(t volume.Target) string {
	if t.Volume.IsNAS() {
		return t.Volume.String()
	}
	return fmt.Sprintf("group%d", t.Group)
}

// UpdateStorage evaluates the recording target of camera.
func (m *Monitor) UpdateStorage(ctx context.Context, camera int) (Outcome, error) {
	reg := m.opts.Registry
	topo := m.opts.Topology
	cfg := m.opts.Config.Get()
	logger := m.logger.With().Int(xglog.FieldCamera, camera).Logger()

	tgt, err := topo.Resolve(camera)
	if err != nil {
		return OutcomeNoTarget, err
	}
	logger = logger.With().Str(xglog.FieldVolume, tgt.Volume.String()).Logger()

	if reg.Busy(tgt.Drive) {
		return OutcomeBusy, nil
	}

	if h := reg.Health(tgt.Volume); h == volume.HealthNoDisk || h == volume.HealthError {
		if tgt.Volume.IsLocal() {
			if next, ok := topo.NextNormal(tgt.Group, reg); ok {
				return m.switchVolume(ctx, tgt, next, "faulty")
			}
		}
		m.warnFailFast.Do(func() {
			logger.Warn().Str(xglog.FieldEvent, "capacity.unhealthy_target").
				Str("health", h.String()).Msg("recording target unhealthy, skipping space check")
		})
		return OutcomeUnhealthy, nil
	}

	usage, err := m.usage(ctx, cfg, tgt)
	if err != nil {
		m.warnQuery.Do(func() {
			logger.Warn().Err(err).Str(xglog.FieldEvent, "capacity.query_failed").Msg("free space query failed")
		})
		return OutcomeQueryFailed, err
	}
	metrics.SetVolumeFreeBytes(tgt.Volume.String(), usage.Free)

	m.lowMemoryAlert(ctx, cfg, tgt.Volume, usage.Free)

	if tgt.Volume.IsNAS() && usage.Free > MinFreeBytes {
		m.mu.Lock()
		if !m.nasRemoveAllowed {
			m.nasRemoveAllowed = true
			logger.Info().Str(xglog.FieldEvent, "capacity.nas_cooldown_cleared").Msg("nas record remove allowed again")
		}
		m.mu.Unlock()
	}

	if usage.Free >= MinFreeBytes {
		m.clearFull(ctx, tgt)
		return OutcomeOK, nil
	}

	if tgt.Volume.IsLocal() && topo.NormalCount(tgt.Group, reg) > 1 {
		if next, ok := topo.NextNormal(tgt.Group, reg); ok {
			reg.SetHealth(tgt.Volume, volume.HealthFull)
			reg.SetStatus(tgt.Volume, volume.StatusFull)
			return m.switchVolume(ctx, tgt, next, "space")
		}
	}

	return m.enforceFull(ctx, cfg, tgt, usage)
}

func (m *Monitor) usage(ctx context.Context, cfg config.Snapshot, tgt volume.Target) (diskstat.Usage, error) {
	if !tgt.Volume.IsNAS() {
		return m.opts.Stat.Usage(ctx, tgt.MountPoint)
	}
	if m.opts.NAS == nil {
		return diskstat.Usage{}, errors.New("no network drive manager")
	}
	timeout := cfg.Storage.NASQueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.opts.NAS.Size(qctx, tgt.Volume)
}

func (m *Monitor) switchVolume(ctx context.Context, from volume.Target, to volume.ID, cause string) (Outcome, error) {
	if err := m.opts.Topology.SetActive(from.Group, to); err != nil {
		return OutcomeNoTarget, err
	}
	metrics.RecordVolumeSwitch(cause)
	m.logger.Info().Str(xglog.FieldEvent, "capacity.volume_switch").
		Int("group", from.Group).Str("from", from.Volume.String()).Str("to", to.String()).
		Str(xglog.FieldReason, cause).Msg("switching recording volume")
	m.opts.Events.Emit(ctx, eventlog.CategoryStorage, eventlog.SubtypeVolumeSwitch,
		from.Volume.String(), fmt.Sprintf("%s -> %s (%s)", from.Volume, to, cause), eventlog.StateActive)
	if m.opts.Sessions != nil {
		m.opts.Sessions.SwitchDrive(m.opts.Topology.CamerasInGroup(from.Group))
	}
	return OutcomeSwitched, nil
}

// enforceFull handles a target below MinFreeBytes.
func (m *Monitor) enforceFull(ctx context.Context, cfg config.Snapshot, tgt volume.Target, u diskstat.Usage) (Outcome, error) {
	key := latchKey(tgt)
	logger := m.logger.With().Str(xglog.FieldVolume, tgt.Volume.String()).Uint64(xglog.FieldFreeBytes, u.Free).Logger()

	m.mu.Lock()
	first := !m.wasFull[key]
	m.wasFull[key] = true
	m.mu.Unlock()
	if first {
		metrics.RecordStorageAlert("disk_full")
		logger.Warn().Str(xglog.FieldEvent, "capacity.full").Str("action", cfg.Storage.FullDiskAction).Msg("recording volume full")
		m.opts.Events.Emit(ctx, eventlog.CategoryStorage, eventlog.SubtypeDiskFull, tgt.Volume.String(),
			fmt.Sprintf("free=%d action=%s", u.Free, cfg.Storage.FullDiskAction), eventlog.StateActive)
	}

	outcome := OutcomeLow
	if u.Free < HardFloorBytes || cfg.Storage.FullDiskAction == config.FullDiskAlertAndStop {
		m.stopVolume(tgt)
		outcome = OutcomeFull
	}
	if cfg.Storage.FullDiskAction == config.FullDiskAlertAndStop {
		return outcome, nil
	}

	var target uint64
	switch cfg.Storage.FullDiskAction {
	case config.FullDiskOverwrite:
		target = OverwriteReclaimBytes
	case config.FullDiskCleanup:
		pct := cfg.Storage.PercentCleanup
		if pct > MaxCleanupPercent {
			pct = MaxCleanupPercent
		}
		if pct <= 0 {
			return outcome, nil
		}
		target = u.Total / 100 * uint64(pct)
	default:
		return outcome, nil
	}

	if tgt.Volume.IsNAS() {
		m.mu.Lock()
		allowed := m.nasRemoveAllowed
		m.mu.Unlock()
		if !allowed {
			m.warnCooldown.Do(func() {
				logger.Warn().Str(xglog.FieldEvent, "capacity.nas_remove_blocked").Msg("not allowed to remove nas recordings yet")
			})
			return OutcomeCooldown, nil
		}
	}

	mask := m.opts.Topology.VolumeMask(tgt.Camera)
	res, err := m.opts.Cleaner.DeleteOldest(mask, target)
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "capacity.cleanup_failed").Msg("could not start cleanup")
		return outcome, err
	}
	if tgt.Volume.IsNAS() && res == cleanup.Started {
		m.mu.Lock()
		m.nasRemoveAllowed = false
		m.mu.Unlock()
		m.opts.Events.Emit(ctx, eventlog.CategoryStorage, eventlog.SubtypeNASCooldown, tgt.Volume.String(), "", eventlog.StateStart)
	}
	logger.Info().Str(xglog.FieldEvent, "capacity.cleanup_requested").
		Uint32("volume_mask", mask).Uint64("target_bytes", target).Str("result", res.String()).Msg("space reclamation requested")
	if outcome == OutcomeFull {
		return outcome, nil
	}
	return OutcomeCleanup, nil
}

// stopVolume marks the target full and interrupts every camera on it.
func (m *Monitor) stopVolume(tgt volume.Target) {
	reg := m.opts.Registry
	reg.SetHealth(tgt.Volume, volume.HealthFull)
	if prev := reg.SetStatus(tgt.Volume, volume.StatusFull); prev == volume.StatusFull {
		return
	}
	cams := m.opts.Topology.CamerasOn(tgt.Volume)
	m.logger.Warn().Str(xglog.FieldEvent, "capacity.recording_stopped").
		Str(xglog.FieldVolume, tgt.Volume.String()).Ints("cameras", cams).Msg("stopping recording on full volume")
	if m.opts.Sessions != nil {
		m.opts.Sessions.Interrupt(cams)
	}
}

// clearFull releases the full latch of the target's group once.
func (m *Monitor) clearFull(ctx context.Context, tgt volume.Target) {
	key := latchKey(tgt)
	m.mu.Lock()
	was := m.wasFull[key]
	delete(m.wasFull, key)
	m.mu.Unlock()

	reg := m.opts.Registry
	if h := reg.Health(tgt.Volume); h == volume.HealthFull {
		reg.SetHealth(tgt.Volume, volume.HealthNormal)
	}
	reg.SetStatus(tgt.Volume, volume.StatusNormal)
	if !was {
		return
	}

	m.logger.Info().Str(xglog.FieldEvent, "capacity.normal").Str(xglog.FieldVolume, tgt.Volume.String()).Msg("recording volume has space again")
	m.opts.Events.Emit(ctx, eventlog.CategoryStorage, eventlog.SubtypeDiskNormal, tgt.Volume.String(), "", eventlog.StateNormal)
	if m.opts.Sessions != nil {
		m.opts.Sessions.Resume(m.opts.Topology.CamerasOn(tgt.Volume))
	}
}

// lowMemoryAlert raises the low space alert below the configured threshold
// and clears it only when free space is back above it.
func (m *Monitor) lowMemoryAlert(ctx context.Context, cfg config.Snapshot, id volume.ID, free uint64) {
	if cfg.Storage.LowSpaceAlertGiB <= 0 {
		return
	}
	threshold := uint64(cfg.Storage.LowSpaceAlertGiB) * gib

	m.mu.Lock()
	raised := m.lowMem[id]
	var change eventlog.State
	switch {
	case !raised && free < threshold:
		m.lowMem[id] = true
		change = eventlog.StateActive
	case raised && free > threshold:
		delete(m.lowMem, id)
		change = eventlog.StateNormal
	}
	m.mu.Unlock()

	if change == "" {
		return
	}
	if change == eventlog.StateActive {
		metrics.RecordStorageAlert("low_memory")
	}
	m.logger.Info().Str(xglog.FieldEvent, "capacity.low_memory").Str(xglog.FieldVolume, id.String()).
		Str(xglog.FieldNewState, string(change)).Uint64(xglog.FieldFreeBytes, free).Msg("low space alert changed")
	m.opts.Events.Emit(ctx, eventlog.CategoryStorage, eventlog.SubtypeLowMemory, id.String(),
		fmt.Sprintf("free=%d threshold=%d", free, threshold), change)
}

// LowMemory reports whether the low space alert is raised for id.
func (m *Monitor) LowMemory(id volume.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lowMem[id]
}

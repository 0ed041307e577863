// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/camera"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/diskops"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/diskstat"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
)

// Defaults for Deps fields left zero.
const (
	DefaultWorkers      = 8
	DefaultTimerTick    = 100 * time.Millisecond
	DefaultFrameBuffer  = 256
	DefaultEventHistory = 512
	DefaultJournalTTL   = 30 * 24 * time.Hour
	DefaultStopTimeout  = 30 * time.Second
)

// Deps are the replaceable collaborators of the daemon. Zero values select
// the production implementation.
type Deps struct {
	Version string

	// Stat answers free-space queries. Defaults to gopsutil.
	Stat diskstat.Stater
	// Partitions lists mounted filesystems for NAS detection.
	Partitions volume.PartitionLister
	// Pipeline opens camera streams. Nil confirms every stream at once and
	// expects frames to be published into the hub.
	Pipeline camera.Pipeline
	// Formatter defaults to the configured format command, or to wiping
	// the recording tree when none is set.
	Formatter diskops.Formatter
	Unmounter diskops.Unmounter
	Location  *time.Location

	Workers      int
	TimerTick    time.Duration
	FrameBuffer  int
	EventHistory int
	StopTimeout  time.Duration
	// ReloadSignal disables the SIGHUP handler when false.
	ReloadSignal bool
}

func (d Deps) withDefaults() Deps {
	if d.Stat == nil {
		d.Stat = diskstat.Gopsutil{}
	}
	if d.Unmounter == nil {
		d.Unmounter = diskops.ExecUnmounter{}
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Workers <= 0 {
		d.Workers = DefaultWorkers
	}
	if d.TimerTick <= 0 {
		d.TimerTick = DefaultTimerTick
	}
	if d.FrameBuffer <= 0 {
		d.FrameBuffer = DefaultFrameBuffer
	}
	if d.EventHistory <= 0 {
		d.EventHistory = DefaultEventHistory
	}
	if d.StopTimeout <= 0 {
		d.StopTimeout = DefaultStopTimeout
	}
	return d
}

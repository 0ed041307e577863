// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package volume

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/diskstat"
	"github.com/shirou/gopsutil/v3/disk"
)

// NetworkDrives exposes NAS mount state. Mount management itself lives
// outside nvrd; this only observes what the system has mounted.
type NetworkDrives interface {
	MountPoint(id ID) (string, error)
	Mounted(ctx context.Context, id ID) bool
	Size(ctx context.Context, id ID) (diskstat.Usage, error)
}

// PartitionLister lists mounted filesystems.
type PartitionLister func(ctx context.Context) ([]disk.PartitionStat, error)

// SystemDrives resolves NAS slots against the kernel mount table.
type SystemDrives struct {
	topo       *Topology
	stat       diskstat.Stater
	partitions PartitionLister
}

// NewSystemDrives creates a NetworkDrives backed by gopsutil.
func NewSystemDrives(topo *Topology, stat diskstat.Stater) *SystemDrives {
	return &SystemDrives{
		topo: topo,
		stat: stat,
		partitions: func(ctx context.Context) ([]disk.PartitionStat, error) {
			return disk.PartitionsWithContext(ctx, true)
		},
	}
}

// WithPartitions replaces the mount table source.
func (s *SystemDrives) WithPartitions(p PartitionLister) *SystemDrives {
	s.partitions = p
	return s
}

// MountPoint returns the configured mount point of a NAS slot.
func (s *SystemDrives) MountPoint(id ID) (string, error) {
	if !id.IsNAS() {
		return "", fmt.Errorf("%w: %s is not a NAS slot", ErrUnknownVolume, id)
	}
	mp, ok := s.topo.MountPoint(id)
	if !ok {
		return "", fmt.Errorf("%w: %s not configured", ErrUnknownVolume, id)
	}
	return mp, nil
}

// Mounted reports whether the NAS slot's mount point is in the mount table.
func (s *SystemDrives) Mounted(ctx context.Context, id ID) bool {
	mp, err := s.MountPoint(id)
	if err != nil {
		return false
	}
	parts, err := s.partitions(ctx)
	if err != nil {
		return false
	}
	want := filepath.Clean(mp)
	for _, p := range parts {
		if filepath.Clean(p.Mountpoint) == want {
			return true
		}
	}
	return false
}

// Size returns the capacity of the NAS slot, bounded by ctx.
func (s *SystemDrives) Size(ctx context.Context, id ID) (diskstat.Usage, error) {
	mp, err := s.MountPoint(id)
	if err != nil {
		return diskstat.Usage{}, err
	}
	return s.stat.Usage(ctx, mp)
}

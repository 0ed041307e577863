// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package volume tracks the health of every recording volume and the
// recording topology (which volume each camera writes to).
//
// Locks in this package are leaves: callers may hold dispatcher or session
// locks while calling in, but nothing here calls back out.
package volume

import "fmt"

// ID identifies a volume. Local disk slots are 0..MaxLocalVolumes-1,
// NAS slots are NAS1 and NAS2.
type ID int

// MaxLocalVolumes bounds the local disk slots.
const MaxLocalVolumes = 16

// NAS slot identifiers.
const (
	NAS1 ID = MaxLocalVolumes + iota
	NAS2
)

// IsNAS reports whether id is a network drive slot.
func (id ID) IsNAS() bool { return id == NAS1 || id == NAS2 }

// IsLocal reports whether id is a local disk slot.
func (id ID) IsLocal() bool { return id >= 0 && id < MaxLocalVolumes }

// Drive returns the recording drive that owns the volume.
func (id ID) Drive() Drive {
	switch id {
	case NAS1:
		return DriveNAS1
	case NAS2:
		return DriveNAS2
	default:
		return DriveLocal
	}
}

// Bit returns the volume mask bit of id.
func (id ID) Bit() uint32 {
	if id < 0 || id > NAS2 {
		return 0
	}
	return 1 << uint(id)
}

// MaskIDs expands a volume mask into ids in ascending order.
func MaskIDs(mask uint32) []ID {
	var out []ID
	for id := ID(0); id <= NAS2; id++ {
		if mask&id.Bit() != 0 {
			out = append(out, id)
		}
	}
	return out
}

func (id ID) String() string {
	switch id {
	case NAS1:
		return "nas1"
	case NAS2:
		return "nas2"
	default:
		return fmt.Sprintf("hdd%d", int(id)+1)
	}
}

// Health is the observed condition of a volume.
type Health int

const (
	HealthNoDisk Health = iota
	HealthNormal
	HealthFull
	HealthLowMemory
	HealthError
)

func (h Health) String() string {
	switch h {
	case HealthNormal:
		return "normal"
	case HealthFull:
		return "full"
	case HealthLowMemory:
		return "low_memory"
	case HealthError:
		return "error"
	default:
		return "no_disk"
	}
}

// Status is the space status of a volume.
type Status int

const (
	StatusNormal Status = iota
	StatusFull
)

func (s Status) String() string {
	if s == StatusFull {
		return "full"
	}
	return "normal"
}

// Drive is a logical recording drive.
type Drive int

const (
	DriveLocal Drive = iota
	DriveNAS1
	DriveNAS2

	// AllDrives broadcasts a drive action write to every drive.
	AllDrives Drive = -1
)

// Drives lists the addressable recording drives.
var Drives = []Drive{DriveLocal, DriveNAS1, DriveNAS2}

func (d Drive) String() string {
	switch d {
	case DriveLocal:
		return "local"
	case DriveNAS1:
		return "nas1"
	case DriveNAS2:
		return "nas2"
	case AllDrives:
		return "all"
	default:
		return fmt.Sprintf("drive(%d)", int(d))
	}
}

// ParseDrive maps a config drive name to a Drive.
func ParseDrive(s string) (Drive, error) {
	switch s {
	case "local", "":
		return DriveLocal, nil
	case "nas1":
		return DriveNAS1, nil
	case "nas2":
		return DriveNAS2, nil
	}
	return DriveLocal, fmt.Errorf("%w: %q", ErrUnknownDrive, s)
}

// NASVolume returns the NAS volume of a NAS drive.
func (d Drive) NASVolume() (ID, bool) {
	switch d {
	case DriveNAS1:
		return NAS1, true
	case DriveNAS2:
		return NAS2, true
	}
	return 0, false
}

// Action is the maintenance action currently holding a drive.
type Action int

const (
	ActionNormal Action = iota
	ActionConfigChange
	ActionFormat
	ActionRecovery
	ActionIoError
)

func (a Action) String() string {
	switch a {
	case ActionConfigChange:
		return "config_change"
	case ActionFormat:
		return "format"
	case ActionRecovery:
		return "recovery"
	case ActionIoError:
		return "io_error"
	default:
		return "normal"
	}
}

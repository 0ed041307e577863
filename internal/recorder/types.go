// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"fmt"
	"strings"
)

// RecordType is a bit in a session's active type mask.
type RecordType uint8

const (
	Manual RecordType = 1 << iota
	Alarm
	Schedule
	Cosec
)

// RecordTypes lists every type in bit order.
var RecordTypes = []RecordType{Manual, Alarm, Schedule, Cosec}

func (t RecordType) String() string {
	switch t {
	case Manual:
		return "manual"
	case Alarm:
		return "alarm"
	case Schedule:
		return "schedule"
	case Cosec:
		return "cosec"
	}
	var parts []string
	for _, rt := range RecordTypes {
		if t&rt != 0 {
			parts = append(parts, rt.String())
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// index returns the slot of a single type in per-type arrays.
func (t RecordType) index() int {
	for i, rt := range RecordTypes {
		if rt == t {
			return i
		}
	}
	return -1
}

// ParseRecordType parses a single type name.
func ParseRecordType(s string) (RecordType, error) {
	for _, rt := range RecordTypes {
		if rt.String() == s {
			return rt, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// State is a session's recording state.
type State int

const (
	StateOff State = iota
	StateOffWait
	StateRestartCleanup
	StateRestartInit
	StateOnWait
	StateOn
	StateDriveSwitch
	StateStreamSwitch
)

var stateNames = [...]string{"off", "off_wait", "restart_cleanup", "restart_init", "on_wait", "on", "drive_switch", "stream_switch"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FailReason explains why recording is not running.
type FailReason int

const (
	ReasonNone FailReason = iota
	ReasonVideoLoss
	ReasonDiskFull
	ReasonDiskFault
	ReasonNAS1Disconnect
	ReasonNAS2Disconnect
	ReasonMediaBusy
)

var reasonNames = [...]string{"none", "video_loss", "disk_full", "disk_fault", "nas1_disconnect", "nas2_disconnect", "media_busy"}

func (r FailReason) String() string {
	if int(r) >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

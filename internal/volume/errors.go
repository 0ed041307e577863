// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package volume

import "errors"

var (
	// ErrUnknownVolume is returned for ids outside the configured topology.
	ErrUnknownVolume = errors.New("unknown volume")

	// ErrUnknownDrive is returned for unrecognised drive names.
	ErrUnknownDrive = errors.New("unknown drive")

	// ErrNoTarget is returned when a camera has no recording target.
	ErrNoTarget = errors.New("no recording target")
)

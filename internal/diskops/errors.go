// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diskops

import "errors"

var (
	// ErrBusy is returned when an operation of the same kind is running.
	ErrBusy = errors.New("operation in progress")
	// ErrProcess is returned when no worker could be started.
	ErrProcess = errors.New("unable to start worker")
	// ErrNotFormattable is returned for media that cannot be formatted.
	ErrNotFormattable = errors.New("media not formattable")
	// ErrUnknownMedia is returned for media without a configured slot.
	ErrUnknownMedia = errors.New("unknown media")
)

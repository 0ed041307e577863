// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingConfig is returned when the daemon is built without a config holder.
	ErrMissingConfig = errors.New("config holder is required")

	// ErrAlreadyRunning is returned by a second Run.
	ErrAlreadyRunning = errors.New("daemon already running")
)

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobs runs background maintenance work: a bounded worker pool and
// named single-instance slots on top of it.
package jobs

import "errors"

var (
	// ErrBusy is returned when a slot already has a running job.
	ErrBusy = errors.New("job already in progress")

	// ErrProcess is returned when no worker could be started for a job.
	ErrProcess = errors.New("unable to start job worker")

	// ErrClosed is returned after the pool has been closed.
	ErrClosed = errors.New("job pool closed")
)

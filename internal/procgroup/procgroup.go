// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup runs external maintenance commands in their own process
// group so that a cancelled command takes its children with it.
package procgroup

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultGrace is the time between SIGTERM and SIGKILL.
const DefaultGrace = 5 * time.Second

var (
	// ErrStart is returned when the command could not be spawned.
	ErrStart = errors.New("process start failed")
)

// Set configures the command to start in a new process group.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Run starts cmd in its own group and waits for it. When ctx ends first the
// group is terminated, escalating to SIGKILL after grace, and ctx's error is
// returned.
func Run(ctx context.Context, cmd *exec.Cmd, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGrace
	}
	Set(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStart, cmd.Path, err)
	}
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		return err
	case <-ctx.Done():
		_ = Terminate(cmd, waitCh, grace)
		return ctx.Err()
	}
}

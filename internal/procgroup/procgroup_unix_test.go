// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	err := Run(context.Background(), exec.Command("sh", "-c", "exit 0"), time.Second)
	require.NoError(t, err)
}

func TestRunExitError(t *testing.T) {
	err := Run(context.Background(), exec.Command("sh", "-c", "exit 3"), time.Second)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestRunStartFailure(t *testing.T) {
	err := Run(context.Background(), exec.Command("/nonexistent/format-tool"), time.Second)
	assert.ErrorIs(t, err, ErrStart)
}

func TestRunCancelKillsGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	cmd := exec.Command("sh", "-c", "sleep 30 & sleep 30")
	start := time.Now()
	err := Run(ctx, cmd, 100*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	pgid := cmd.Process.Pid
	// Give the kernel a moment to reap the background child.
	require.Eventually(t, func() bool {
		return errors.Is(syscall.Kill(-pgid, syscall.Signal(0)), syscall.ESRCH)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestKillNilCommand(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGTERM))
	assert.NoError(t, Terminate(nil, nil, time.Millisecond))
}

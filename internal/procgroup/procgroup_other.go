// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package procgroup

import (
	"os/exec"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/metrics"
)

func set(*exec.Cmd) {}

// Terminate kills the root process only; other platforms have no groups.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}
	err := cmd.Process.Kill()
	if err != nil {
		metrics.RecordProcTerminate("kill", "error")
	} else {
		metrics.RecordProcTerminate("kill", "sent")
	}
	return <-waitCh
}

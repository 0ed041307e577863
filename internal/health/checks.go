// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
)

// VolumeStates is the registry view used by VolumeChecker.
type VolumeStates interface {
	Snapshot() []volume.State
}

// VolumeChecker reports unhealthy when no volume can take recordings and
// degraded when any known volume is faulty, full or non-functional.
type VolumeChecker struct {
	states VolumeStates
}

// NewVolumeChecker creates a checker over the volume registry.
func NewVolumeChecker(states VolumeStates) *VolumeChecker {
	return &VolumeChecker{states: states}
}

func (c *VolumeChecker) Name() string { return "volumes" }

func (c *VolumeChecker) Check(context.Context) CheckResult {
	states := c.states.Snapshot()
	if len(states) == 0 {
		return CheckResult{Status: StatusUnhealthy, Message: "no volumes detected"}
	}

	usable := 0
	var faulty []string
	for _, s := range states {
		writable := s.Health == volume.HealthNormal || s.Health == volume.HealthLowMemory
		if writable && s.Status == volume.StatusNormal && !s.NonFunctional {
			usable++
			continue
		}
		if s.Health != volume.HealthNoDisk {
			faulty = append(faulty, fmt.Sprintf("%s=%s", s.Name, describe(s)))
		}
	}

	switch {
	case usable == 0:
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "no recording volume is writable",
			Error:   strings.Join(faulty, ","),
		}
	case len(faulty) > 0:
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d writable, %d faulty", usable, len(faulty)),
			Error:   strings.Join(faulty, ","),
		}
	default:
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d writable", usable)}
	}
}

func describe(s volume.State) string {
	switch {
	case s.NonFunctional:
		return "non_functional"
	case s.Status == volume.StatusFull:
		return "full"
	default:
		return s.Health.String()
	}
}

// DirChecker checks that a directory exists and accepts writes.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a checker for a writable directory. An empty path
// is reported healthy as not configured.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	if err := writable(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: "directory writable"}
}

func writable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(probe)
	return nil
}

// FuncChecker adapts a function into a Checker.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewFuncChecker wraps fn under name.
func NewFuncChecker(name string, fn func(ctx context.Context) CheckResult) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) Check(ctx context.Context) CheckResult { return c.fn(ctx) }

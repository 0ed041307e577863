// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diskops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/fsutil"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/layout"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/procgroup"
)

// Command placeholders.
const (
	PlaceholderDevice = "{device}"
	PlaceholderMount  = "{mount}"
)

// DefaultUnmountCommand detaches a backup device.
var DefaultUnmountCommand = []string{"umount", PlaceholderDevice}

func expand(args []string, device, mount string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		a = strings.ReplaceAll(a, PlaceholderDevice, device)
		out[i] = strings.ReplaceAll(a, PlaceholderMount, mount)
	}
	return out
}

func runCommand(ctx context.Context, args []string, grace time.Duration) error {
	if len(args) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.Command(args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := procgroup.Run(ctx, cmd, grace)
	if err != nil && stderr.Len() > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return err
}

// ExecFormatter runs an external format command in its own process group.
// Arguments may contain {device} and {mount}.
type ExecFormatter struct {
	Command []string
	Grace   time.Duration
}

// Format implements Formatter.
func (f ExecFormatter) Format(ctx context.Context, dev Device) error {
	args := expand(f.Command, dev.Path, dev.MountPoint)
	logger := xglog.WithComponent("diskops")
	logger.Info().
		Str(xglog.FieldVolume, dev.ID.String()).
		Strs("command", args).
		Msg("running format command")
	return runCommand(ctx, args, f.Grace)
}

// WipeFormatter empties the recording tree of a mount. It serves network
// drives and setups without a format command.
type WipeFormatter struct{}

// Format implements Formatter.
func (WipeFormatter) Format(ctx context.Context, dev Device) error {
	entries, err := os.ReadDir(dev.MountPoint)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := layout.ParseCameraDir(e.Name()); !ok {
			continue
		}
		if err := fsutil.RemoveConfined(dev.MountPoint, filepath.Join(dev.MountPoint, e.Name())); err != nil {
			return fmt.Errorf("wipe %s: %w", e.Name(), err)
		}
	}
	return nil
}

// ExecUnmounter runs an unmount command; {device} is replaced by the device.
type ExecUnmounter struct {
	Command []string
	Grace   time.Duration
}

// Unmount implements Unmounter.
func (u ExecUnmounter) Unmount(ctx context.Context, device string) error {
	args := u.Command
	if len(args) == 0 {
		args = DefaultUnmountCommand
	}
	return runCommand(ctx, expand(args, device, device), u.Grace)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment before the daemon starts.
// Missing volume mount points are logged, not fatal: a disk may be plugged
// in later.
func PerformStartupChecks(ctx context.Context, cfg config.Snapshot) error {
	logger := log.WithContext(ctx, log.WithComponent("startup-check"))
	logger.Info().Msg("running pre-flight startup checks")

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := writable(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	logger.Info().Str(log.FieldPath, cfg.DataDir).Msg("data directory is writable")

	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkTargetedValidations(logger zerolog.Logger, cfg config.Snapshot) error {
	if cfg.API.Listen != "" {
		_, port, err := net.SplitHostPort(cfg.API.Listen)
		if err != nil {
			return fmt.Errorf("invalid API listen address %q: %w", cfg.API.Listen, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid API listen port %q in %q", port, cfg.API.Listen)
		}
	}

	for i, v := range cfg.Storage.Volumes {
		if !filepath.IsAbs(v.MountPoint) {
			return fmt.Errorf("volume %d mount point must be absolute: %q", i, v.MountPoint)
		}
		if fi, err := os.Stat(v.MountPoint); err != nil || !fi.IsDir() {
			logger.Warn().
				Str(log.FieldMountPoint, v.MountPoint).
				Msg("volume mount point not present; volume starts as no_disk")
		}
	}

	if len(cfg.Storage.FormatCommand) > 0 {
		bin := cfg.Storage.FormatCommand[0]
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("format command not found (%s): %w", bin, err)
		}
	}
	return nil
}

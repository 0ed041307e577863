// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/validate"
)

// MaxCameras bounds the camera count.
const MaxCameras = 64

// MaxNASSlots is the number of network drive slots.
const MaxNASSlots = 2

// Validate checks a merged snapshot and returns a validate.ValidationError
// listing every problem found.
func Validate(cfg Snapshot) error {
	v := validate.New()

	v.AbsPath("DataDir", cfg.DataDir)
	v.Range("Cameras", cfg.Cameras, 1, MaxCameras)

	s := cfg.Storage
	v.OneOf("Storage.RecordDrive", s.RecordDrive, []string{DriveLocal, DriveNAS1, DriveNAS2})
	v.OneOf("Storage.FullDiskAction", s.FullDiskAction, []string{FullDiskAlertAndStop, FullDiskOverwrite, FullDiskCleanup})
	v.Range("Storage.PercentCleanup", s.PercentCleanup, 1, 90)
	v.NonNegative("Storage.LowSpaceAlertGiB", s.LowSpaceAlertGiB)
	if s.NASQueryTimeout <= 0 {
		v.AddError("Storage.NASQueryTimeout", "must be positive", s.NASQueryTimeout)
	}
	if s.CheckInterval <= 0 {
		v.AddError("Storage.CheckInterval", "must be positive", s.CheckInterval)
	}
	if s.RecordDrive == DriveLocal && len(s.Volumes) == 0 {
		v.AddError("Storage.Volumes", "at least one volume is required for local recording", nil)
	}
	for i, vol := range s.Volumes {
		v.AbsPath(fmt.Sprintf("Storage.Volumes[%d].MountPoint", i), vol.MountPoint)
	}
	if len(s.NAS) > MaxNASSlots {
		v.AddError("Storage.NAS", fmt.Sprintf("at most %d NAS slots", MaxNASSlots), len(s.NAS))
	}
	for i, n := range s.NAS {
		if n.MountPoint != "" {
			v.AbsPath(fmt.Sprintf("Storage.NAS[%d].MountPoint", i), n.MountPoint)
		}
	}
	switch s.RecordDrive {
	case DriveNAS1:
		if len(s.NAS) < 1 || s.NAS[0].MountPoint == "" {
			v.AddError("Storage.NAS[0]", "recordDrive nas1 requires a NAS1 mount point", nil)
		}
	case DriveNAS2:
		if len(s.NAS) < 2 || s.NAS[1].MountPoint == "" {
			v.AddError("Storage.NAS[1]", "recordDrive nas2 requires a NAS2 mount point", nil)
		}
	}
	validateGroups(v, cfg)

	r := s.Retention
	v.OneOf("Storage.Retention.Policy", r.Policy, []string{RetentionDriveWide, RetentionPerCamera})
	v.NonNegative("Storage.Retention.DriveDays", r.DriveDays)
	for cam, days := range r.CameraDays {
		v.Range(fmt.Sprintf("Storage.Retention.CameraDays[%d]", cam), cam, 1, cfg.Cameras)
		v.NonNegative(fmt.Sprintf("Storage.Retention.CameraDays[%d]", cam), days)
	}
	if r.Enabled && r.Interval <= 0 {
		v.AddError("Storage.Retention.Interval", "must be positive when retention is enabled", r.Interval)
	}

	b := cfg.Backup
	if b.Enabled {
		v.OneOf("Backup.Target", b.Target, []string{BackupUSB, BackupNAS, BackupFTP})
		switch b.Target {
		case BackupUSB:
			v.AbsPath("Backup.USBRoot", b.USBRoot)
		case BackupNAS:
			v.AbsPath("Backup.NASRoot", b.NASRoot)
		case BackupFTP:
			v.NotEmpty("Backup.FTP.Addr", b.FTP.Addr)
		}
		v.Positive("Backup.Days", b.Days)
		if b.Interval <= 0 {
			v.AddError("Backup.Interval", "must be positive", b.Interval)
		}
	}

	for i, c := range cfg.Recording.CameraConfigs {
		v.Range(fmt.Sprintf("Recording.CameraConfigs[%d].Camera", i), c.Camera, 1, cfg.Cameras)
		v.OneOf(fmt.Sprintf("Recording.CameraConfigs[%d].Stream", i), c.Stream, []string{StreamMain, StreamSub})
	}

	v.ListenAddr("API.Listen", cfg.API.Listen)
	v.NonNegative("API.RateLimit", cfg.API.RateLimit)

	if cfg.Telemetry.Enabled {
		v.OneOf("Telemetry.ExporterType", cfg.Telemetry.ExporterType, []string{"grpc", "http"})
		v.NotEmpty("Telemetry.Endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("Telemetry.SamplingRate", "must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	v.OneOf("Log.Level", cfg.Log.Level, []string{"trace", "debug", "info", "warn", "error"})

	return v.Err()
}

func validateGroups(v *validate.Validator, cfg Snapshot) {
	seen := make(map[int]string)
	for gi, g := range cfg.Storage.Groups {
		field := fmt.Sprintf("Storage.Groups[%d]", gi)
		if len(g.Volumes) == 0 {
			v.AddError(field+".Volumes", "group needs at least one volume", nil)
		}
		for _, vi := range g.Volumes {
			if vi < 0 || vi >= len(cfg.Storage.Volumes) {
				v.AddError(field+".Volumes", fmt.Sprintf("volume index %d out of range", vi), vi)
			}
		}
		for _, cam := range g.Cameras {
			v.Range(field+".Cameras", cam, 1, cfg.Cameras)
			if other, dup := seen[cam]; dup {
				v.AddError(field+".Cameras", fmt.Sprintf("camera %d already assigned to group %s", cam, other), cam)
			}
			seen[cam] = g.Name
		}
	}
}

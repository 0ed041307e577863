// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Defaults returns the baseline configuration before file and ENV overrides.
func Defaults() Snapshot {
	return Snapshot{
		ConfigVersion: "1",
		DataDir:       "/var/lib/nvrd",
		Cameras:       16,
		Storage: StorageConfig{
			RecordDrive:      DriveLocal,
			FullDiskAction:   FullDiskOverwrite,
			PercentCleanup:   10,
			LowSpaceAlertGiB: 0,
			NASQueryTimeout:  5 * time.Second,
			CheckInterval:    30 * time.Second,
			Retention: RetentionConfig{
				Policy:   RetentionDriveWide,
				Interval: time.Hour,
			},
		},
		Backup: BackupConfig{
			Target:   BackupUSB,
			Interval: 6 * time.Hour,
			FTP: FTPConfig{
				Timeout: 10 * time.Second,
			},
		},
		Recording: RecordingConfig{
			PostAlarmStop:     10 * time.Second,
			PostCosecStop:     30 * time.Second,
			ConfigChangeDelay: 5 * time.Second,
		},
		Events: EventsConfig{
			RedisChannel: "nvr.events",
		},
		API: APIConfig{
			Listen:          ":8090",
			RateLimit:       30,
			ShutdownTimeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "nvrd",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

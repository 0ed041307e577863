// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// envReader resolves NVR_* overrides and logs the source of every value.
type envReader struct {
	lookup func(string) (string, bool)
	logger zerolog.Logger
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "token") || strings.Contains(lower, "password")
}

// String reads a string from the environment or returns the default value.
func (e envReader) String(key, defaultValue string) string {
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return defaultValue
	}
	ev := e.logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitiveKey(key) {
		ev.Bool("sensitive", true).Msg("using environment variable")
	} else {
		ev.Str("value", value).Msg("using environment variable")
	}
	return value
}

// Int reads an integer and falls back to the default on parse errors.
func (e envReader) Int(key string, defaultValue int) int {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Err(err).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	e.logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

// Bool reads a boolean and falls back to the default on parse errors.
func (e envReader) Bool(key string, defaultValue bool) bool {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Err(err).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
	e.logger.Debug().Str("key", key).Bool("value", b).Str("source", "environment").Msg("using environment variable")
	return b
}

// Duration reads a Go duration string and falls back to the default on parse errors.
func (e envReader) Duration(key string, defaultValue time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Err(err).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	e.logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")
	return d
}

// Float reads a float and falls back to the default on parse errors.
func (e envReader) Float(key string, defaultValue float64) float64 {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Err(err).
			Msg("invalid float in environment variable, using default")
		return defaultValue
	}
	e.logger.Debug().Str("key", key).Float64("value", f).Str("source", "environment").Msg("using environment variable")
	return f
}

// mergeEnv applies NVR_* overrides on top of cfg.
func mergeEnv(cfg *Snapshot, env envReader) {
	cfg.DataDir = env.String("NVR_DATA_DIR", cfg.DataDir)
	cfg.Cameras = env.Int("NVR_CAMERAS", cfg.Cameras)

	cfg.Storage.RecordDrive = env.String("NVR_RECORD_DRIVE", cfg.Storage.RecordDrive)
	cfg.Storage.FullDiskAction = env.String("NVR_FULL_DISK_ACTION", cfg.Storage.FullDiskAction)
	cfg.Storage.PercentCleanup = env.Int("NVR_PERCENT_CLEANUP", cfg.Storage.PercentCleanup)
	cfg.Storage.LowSpaceAlertGiB = env.Int("NVR_LOW_SPACE_ALERT_GIB", cfg.Storage.LowSpaceAlertGiB)
	cfg.Storage.NASQueryTimeout = env.Duration("NVR_NAS_QUERY_TIMEOUT", cfg.Storage.NASQueryTimeout)
	cfg.Storage.CheckInterval = env.Duration("NVR_CHECK_INTERVAL", cfg.Storage.CheckInterval)
	cfg.Storage.Retention.Enabled = env.Bool("NVR_RETENTION_ENABLED", cfg.Storage.Retention.Enabled)
	cfg.Storage.Retention.DriveDays = env.Int("NVR_RETENTION_DAYS", cfg.Storage.Retention.DriveDays)

	cfg.Backup.Enabled = env.Bool("NVR_BACKUP_ENABLED", cfg.Backup.Enabled)
	cfg.Backup.Target = env.String("NVR_BACKUP_TARGET", cfg.Backup.Target)
	cfg.Backup.Days = env.Int("NVR_BACKUP_DAYS", cfg.Backup.Days)
	cfg.Backup.FTP.Addr = env.String("NVR_FTP_ADDR", cfg.Backup.FTP.Addr)
	cfg.Backup.FTP.User = env.String("NVR_FTP_USER", cfg.Backup.FTP.User)
	cfg.Backup.FTP.Password = env.String("NVR_FTP_PASSWORD", cfg.Backup.FTP.Password)

	cfg.Index.Path = env.String("NVR_INDEX_PATH", cfg.Index.Path)
	cfg.Events.JournalDir = env.String("NVR_EVENT_JOURNAL_DIR", cfg.Events.JournalDir)
	cfg.Events.RedisAddr = env.String("NVR_REDIS_ADDR", cfg.Events.RedisAddr)

	cfg.API.Listen = env.String("NVR_LISTEN", cfg.API.Listen)
	cfg.API.RateLimit = env.Int("NVR_API_RATE_LIMIT", cfg.API.RateLimit)

	cfg.Telemetry.Enabled = env.Bool("NVR_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = env.String("NVR_OTLP_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = env.String("NVR_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = env.Float("NVR_TRACE_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	cfg.Log.Level = env.String("NVR_LOG_LEVEL", cfg.Log.Level)
}

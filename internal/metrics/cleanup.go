// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cleanupFolders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_cleanup_folders_deleted_total",
		Help: "Folders removed by cleanup, by mode (oldest, retention, backup).",
	}, []string{"mode"})

	cleanupBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_cleanup_bytes_freed_total",
		Help: "Bytes freed by cleanup, by mode.",
	}, []string{"mode"})

	cleanupRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_cleanup_delete_retries_total",
		Help: "Folder deletions that failed and were retried after the contention delay, by mode.",
	}, []string{"mode"})

	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_cleanup_runs_total",
		Help: "Cleanup job completions, by mode and outcome (done, cancelled, failed).",
	}, []string{"mode", "outcome"})
)

// RecordCleanupDelete counts one removed folder.
func RecordCleanupDelete(mode string, bytes uint64) {
	cleanupFolders.WithLabelValues(mode).Inc()
	cleanupBytes.WithLabelValues(mode).Add(float64(bytes))
}

// RecordCleanupRetry counts one contention retry.
func RecordCleanupRetry(mode string) {
	cleanupRetries.WithLabelValues(mode).Inc()
}

// RecordCleanupRun counts a finished job.
func RecordCleanupRun(mode, outcome string) {
	cleanupRuns.WithLabelValues(mode, outcome).Inc()
}

// CleanupFoldersCounter exposes the folder counter for tests.
func CleanupFoldersCounter(mode string) prometheus.Counter {
	return cleanupFolders.WithLabelValues(mode)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_jobs_started_total",
		Help: "Background jobs started, by kind.",
	}, []string{"kind"})

	jobsBusy = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_jobs_busy_total",
		Help: "Job requests that found their slot occupied, by kind.",
	}, []string{"kind"})

	jobsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_jobs_rejected_total",
		Help: "Job requests rejected because the worker pool was exhausted, by kind.",
	}, []string{"kind"})

	jobsRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvr_jobs_running",
		Help: "Jobs currently running, by kind.",
	}, []string{"kind"})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_proc_terminate_total",
		Help: "Signals sent to external command process groups, by signal and outcome.",
	}, []string{"signal", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nvr_job_duration_seconds",
		Help:    "Job run time, by kind.",
		Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"kind"})
)

// RecordJobStarted counts a started job and marks it running.
func RecordJobStarted(kind string) {
	jobsStarted.WithLabelValues(kind).Inc()
	jobsRunning.WithLabelValues(kind).Inc()
}

// RecordJobFinished marks a job done and observes its duration.
func RecordJobFinished(kind string, seconds float64) {
	jobsRunning.WithLabelValues(kind).Dec()
	jobDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordJobBusy counts a request that found the slot occupied.
func RecordJobBusy(kind string) {
	jobsBusy.WithLabelValues(kind).Inc()
}

// RecordJobRejected counts a pool rejection.
func RecordJobRejected(kind string) {
	jobsRejected.WithLabelValues(kind).Inc()
}

// JobsBusyCounter exposes the busy counter for tests.
func JobsBusyCounter(kind string) prometheus.Counter {
	return jobsBusy.WithLabelValues(kind)
}

// RecordProcTerminate counts a termination signal sent to a process group.
func RecordProcTerminate(signal, outcome string) {
	procTerminate.WithLabelValues(signal, outcome).Inc()
}

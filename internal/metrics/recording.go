// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_session_transitions_total",
		Help: "Recording session state transitions, by target state.",
	}, []string{"state"})

	sessionsRecording = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvr_sessions_recording",
		Help: "Number of cameras currently in the On state.",
	})

	recordFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_record_failures_total",
		Help: "Recording start failures and forced stops, by reason.",
	}, []string{"reason"})

	framesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvr_frames_written_total",
		Help: "Frames handed to the storage writer.",
	})

	framesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_frames_skipped_total",
		Help: "Frames dropped by the dispatcher, by cause (pre_record, adaptive).",
	}, []string{"cause"})

	writeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvr_write_errors_total",
		Help: "Storage write failures observed by the dispatcher.",
	})
)

// RecordSessionTransition counts a state change.
func RecordSessionTransition(state string) {
	sessionTransitions.WithLabelValues(state).Inc()
}

// SetSessionsRecording records the number of recording cameras.
func SetSessionsRecording(n int) {
	sessionsRecording.Set(float64(n))
}

// RecordFailure counts a typed record failure.
func RecordFailure(reason string) {
	recordFailures.WithLabelValues(reason).Inc()
}

// AddFramesWritten counts written frames.
func AddFramesWritten(n int) {
	framesWritten.Add(float64(n))
}

// RecordFrameSkipped counts a skipped frame.
func RecordFrameSkipped(cause string) {
	framesSkipped.WithLabelValues(cause).Inc()
}

// RecordWriteError counts a storage write failure.
func RecordWriteError() {
	writeErrors.Inc()
}

// SessionTransitionCounter exposes the transition counter for tests.
func SessionTransitionCounter(state string) prometheus.Counter {
	return sessionTransitions.WithLabelValues(state)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for nvrd.
// Labels never carry unbounded values such as paths or job ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	volumeHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvr_volume_health",
		Help: "Volume health by volume (value 1 for the active health label, 0 otherwise).",
	}, []string{"volume", "health"})

	volumeFreeBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvr_volume_free_bytes",
		Help: "Last observed free space per volume in bytes.",
	}, []string{"volume"})

	driveAction = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvr_drive_action",
		Help: "Drive action status by drive (value 1 for the active action label, 0 otherwise).",
	}, []string{"drive", "action"})

	storageAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_storage_alerts_total",
		Help: "Storage alerts raised, by kind (full, low_space, normal).",
	}, []string{"kind"})

	volumeSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_volume_switch_total",
		Help: "Active recording volume switches, by cause (low_space, fault).",
	}, []string{"cause"})
)

// HealthStates lists the health label values exported by SetVolumeHealth.
var HealthStates = []string{"normal", "full", "low_memory", "no_disk", "error"}

// DriveActions lists the action label values exported by SetDriveAction.
var DriveActions = []string{"normal", "config_change", "format", "recovery", "io_error"}

// SetVolumeHealth records the current health of a volume.
func SetVolumeHealth(volume, health string) {
	setOneHot(volumeHealth, volume, health, HealthStates)
}

// SetVolumeFreeBytes records the last free-space observation.
func SetVolumeFreeBytes(volume string, free uint64) {
	volumeFreeBytes.WithLabelValues(volume).Set(float64(free))
}

// SetDriveAction records the action status of a recording drive.
func SetDriveAction(drive, action string) {
	setOneHot(driveAction, drive, action, DriveActions)
}

// RecordStorageAlert counts a storage alert transition.
func RecordStorageAlert(kind string) {
	storageAlerts.WithLabelValues(kind).Inc()
}

// RecordVolumeSwitch counts an active volume switch.
func RecordVolumeSwitch(cause string) {
	volumeSwitches.WithLabelValues(cause).Inc()
}

func setOneHot(vec *prometheus.GaugeVec, key, value string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == value {
			v = 1.0
		}
		vec.WithLabelValues(key, s).Set(v)
	}
}

// GaugeValue reads a gauge for tests and diagnostics.
func GaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// VolumeHealthGauge exposes the health gauge for a volume/state pair.
func VolumeHealthGauge(volume, health string) prometheus.Gauge {
	return volumeHealth.WithLabelValues(volume, health)
}

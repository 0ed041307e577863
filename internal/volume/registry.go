// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package volume

import (
	"sort"
	"sync"

	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/metrics"
	"github.com/rs/zerolog"
)

// State is a point-in-time copy of one volume's health record.
type State struct {
	ID              ID     `json:"id"`
	Name            string `json:"name"`
	Health          Health `json:"-"`
	HealthName      string `json:"health"`
	Status          Status `json:"-"`
	StatusName      string `json:"status"`
	NonFunctional   bool   `json:"non_functional"`
	BuildInProgress bool   `json:"build_in_progress"`
}

type healthRecord struct {
	health          Health
	status          Status
	nonFunctional   bool
	buildInProgress bool
}

// Registry holds the health of every volume and the action status of every
// recording drive. Unknown volumes read as NoDisk.
type Registry struct {
	mu      sync.RWMutex
	volumes map[ID]*healthRecord
	actions map[Drive]Action
	logger  zerolog.Logger
}

// NewRegistry creates a registry with all drives in ActionNormal.
func NewRegistry() *Registry {
	r := &Registry{
		volumes: make(map[ID]*healthRecord),
		actions: make(map[Drive]Action, len(Drives)),
		logger:  xglog.WithComponent("volume"),
	}
	for _, d := range Drives {
		r.actions[d] = ActionNormal
		metrics.SetDriveAction(d.String(), ActionNormal.String())
	}
	return r
}

func (r *Registry) recordLocked(id ID) *healthRecord {
	rec, ok := r.volumes[id]
	if !ok {
		rec = &healthRecord{health: HealthNoDisk}
		r.volumes[id] = rec
	}
	return rec
}

// Health returns the health of id.
func (r *Registry) Health(id ID) Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.volumes[id]; ok {
		return rec.health
	}
	return HealthNoDisk
}

// SetHealth updates the health of id and returns the previous value.
func (r *Registry) SetHealth(id ID, h Health) Health {
	r.mu.Lock()
	rec := r.recordLocked(id)
	prev := rec.health
	rec.health = h
	r.mu.Unlock()

	if prev != h {
		r.logger.Info().
			Str(xglog.FieldEvent, "volume.health_changed").
			Str(xglog.FieldVolume, id.String()).
			Str(xglog.FieldOldState, prev.String()).
			Str(xglog.FieldNewState, h.String()).
			Msg("volume health changed")
		metrics.SetVolumeHealth(id.String(), h.String())
	}
	return prev
}

// Status returns the space status of id.
func (r *Registry) Status(id ID) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.volumes[id]; ok {
		return rec.status
	}
	return StatusNormal
}

// SetStatus updates the space status of id and returns the previous value.
func (r *Registry) SetStatus(id ID, s Status) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.recordLocked(id)
	prev := rec.status
	rec.status = s
	return prev
}

// NonFunctional reports whether id was left unusable by a failed format or recovery.
func (r *Registry) NonFunctional(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.volumes[id]; ok {
		return rec.nonFunctional
	}
	return false
}

// SetNonFunctional updates the non-functional flag of id.
func (r *Registry) SetNonFunctional(id ID, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(id).nonFunctional = v
}

// BuildInProgress reports whether a format or index build is running on id.
func (r *Registry) BuildInProgress(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.volumes[id]; ok {
		return rec.buildInProgress
	}
	return false
}

// SetBuildInProgress updates the build flag of id.
func (r *Registry) SetBuildInProgress(id ID, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(id).buildInProgress = v
}

// DriveAction returns the action currently holding drive.
func (r *Registry) DriveAction(d Drive) Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actions[d]
}

// SetDriveAction sets the action of d, or of every drive for AllDrives.
func (r *Registry) SetDriveAction(d Drive, a Action) {
	targets := []Drive{d}
	if d == AllDrives {
		targets = Drives
	}

	r.mu.Lock()
	changed := make([]Drive, 0, len(targets))
	prev := make([]Action, 0, len(targets))
	for _, t := range targets {
		if r.actions[t] != a {
			changed = append(changed, t)
			prev = append(prev, r.actions[t])
		}
		r.actions[t] = a
	}
	r.mu.Unlock()

	for i, t := range changed {
		r.logger.Info().
			Str(xglog.FieldEvent, "volume.drive_action_changed").
			Str(xglog.FieldDrive, t.String()).
			Str(xglog.FieldOldState, prev[i].String()).
			Str(xglog.FieldNewState, a.String()).
			Msg("drive action changed")
		metrics.SetDriveAction(t.String(), a.String())
	}
}

// Busy reports whether d is held by any non-normal action.
func (r *Registry) Busy(d Drive) bool {
	return r.DriveAction(d) != ActionNormal
}

// IsOperationalForRead reports whether recordings on id can be read.
// NoDisk is never readable. An Error volume stays readable only while another
// Normal volume of the same storage mode exists; NAS slots have no peers.
func (r *Registry) IsOperationalForRead(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.volumes[id]
	if !ok {
		return false
	}
	switch rec.health {
	case HealthNoDisk:
		return false
	case HealthError:
		if id.IsNAS() {
			return false
		}
		for other, o := range r.volumes {
			if other != id && other.IsLocal() && o.health == HealthNormal {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// Snapshot returns all known volume states ordered by id.
func (r *Registry) Snapshot() []State {
	r.mu.RLock()
	out := make([]State, 0, len(r.volumes))
	for id, rec := range r.volumes {
		out = append(out, State{
			ID:              id,
			Name:            id.String(),
			Health:          rec.health,
			HealthName:      rec.health.String(),
			Status:          rec.status,
			StatusName:      rec.status.String(),
			NonFunctional:   rec.nonFunctional,
			BuildInProgress: rec.buildInProgress,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

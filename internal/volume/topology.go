// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package volume

import (
	"fmt"
	"sort"
	"sync"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
)

// Local is one configured local disk slot.
type Local struct {
	ID         ID
	Name       string
	MountPoint string
	Device     string
}

// Group is a storage allocation group: cameras recording as a unit onto a
// set of local volumes, one of which is active at a time.
type Group struct {
	Index   int
	Name    string
	Volumes []ID
	Cameras []int
}

// Target is where a camera records right now.
type Target struct {
	Camera     int
	Drive      Drive
	Volume     ID
	MountPoint string
	Group      int
}

// Switch describes an active volume change within a group.
type Switch struct {
	Group   int
	From    ID
	To      ID
	Cameras []int
}

// HealthReader is the read side of the registry used for target selection.
type HealthReader interface {
	Health(id ID) Health
}

// Topology maps cameras to recording targets.
type Topology struct {
	mu          sync.RWMutex
	drive       Drive
	cameras     int
	locals      map[ID]Local
	localOrder  []ID
	nas         map[ID]string
	groups      []Group
	cameraGroup map[int]int
	active      map[int]ID
}

// NewTopology builds the topology from a snapshot.
func NewTopology(cfg config.Snapshot) (*Topology, error) {
	t := &Topology{}
	if err := t.Apply(cfg); err != nil {
		return nil, err
	}
	return t, nil
}

// Apply replaces the topology with cfg. A group keeps its active volume when
// that volume is still a member.
func (t *Topology) Apply(cfg config.Snapshot) error {
	drive, err := ParseDrive(cfg.Storage.RecordDrive)
	if err != nil {
		return err
	}
	if len(cfg.Storage.Volumes) > MaxLocalVolumes {
		return fmt.Errorf("%d volumes configured, at most %d supported", len(cfg.Storage.Volumes), MaxLocalVolumes)
	}

	locals := make(map[ID]Local, len(cfg.Storage.Volumes))
	order := make([]ID, 0, len(cfg.Storage.Volumes))
	for i, v := range cfg.Storage.Volumes {
		id := ID(i)
		name := v.Name
		if name == "" {
			name = id.String()
		}
		locals[id] = Local{ID: id, Name: name, MountPoint: v.MountPoint, Device: v.Device}
		order = append(order, id)
	}

	nas := make(map[ID]string, 2)
	for i, n := range cfg.Storage.NAS {
		if i > 1 {
			break
		}
		nas[NAS1+ID(i)] = n.MountPoint
	}

	groups := make([]Group, 0, len(cfg.Storage.Groups))
	cameraGroup := make(map[int]int)
	for gi, g := range cfg.Storage.Groups {
		grp := Group{Index: gi, Name: g.Name}
		for _, vi := range g.Volumes {
			if _, ok := locals[ID(vi)]; !ok {
				return fmt.Errorf("%w: group %s references volume index %d", ErrUnknownVolume, g.Name, vi)
			}
			grp.Volumes = append(grp.Volumes, ID(vi))
		}
		grp.Cameras = append(grp.Cameras, g.Cameras...)
		sort.Ints(grp.Cameras)
		for _, c := range g.Cameras {
			cameraGroup[c] = gi
		}
		groups = append(groups, grp)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	active := make(map[int]ID, len(groups))
	for _, g := range groups {
		if len(g.Volumes) == 0 {
			continue
		}
		active[g.Index] = g.Volumes[0]
		if prev, ok := t.active[g.Index]; ok && containsID(g.Volumes, prev) {
			active[g.Index] = prev
		}
	}

	t.drive = drive
	t.cameras = cfg.Cameras
	t.locals = locals
	t.localOrder = order
	t.nas = nas
	t.groups = groups
	t.cameraGroup = cameraGroup
	t.active = active
	return nil
}

func containsID(ids []ID, id ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// RecordDrive returns the configured recording drive.
func (t *Topology) RecordDrive() Drive {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.drive
}

// Cameras returns the configured camera count.
func (t *Topology) Cameras() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cameras
}

// Resolve returns the recording target of camera (1-based).
func (t *Topology) Resolve(camera int) (Target, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	gi, hasGroup := t.cameraGroup[camera]
	if !hasGroup {
		gi = -1
	}

	if id, ok := t.drive.NASVolume(); ok {
		mp := t.nas[id]
		if mp == "" {
			return Target{}, fmt.Errorf("%w: camera %d, %s not configured", ErrNoTarget, camera, id)
		}
		return Target{Camera: camera, Drive: t.drive, Volume: id, MountPoint: mp, Group: gi}, nil
	}

	if !hasGroup {
		return Target{}, fmt.Errorf("%w: camera %d has no storage group", ErrNoTarget, camera)
	}
	id, ok := t.active[gi]
	if !ok {
		return Target{}, fmt.Errorf("%w: group %d has no volumes", ErrNoTarget, gi)
	}
	return Target{Camera: camera, Drive: DriveLocal, Volume: id, MountPoint: t.locals[id].MountPoint, Group: gi}, nil
}

// MountPoint returns the mount point of id.
func (t *Topology) MountPoint(id ID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id.IsNAS() {
		mp, ok := t.nas[id]
		return mp, ok && mp != ""
	}
	l, ok := t.locals[id]
	return l.MountPoint, ok
}

// Locals returns the local volumes in slot order.
func (t *Topology) Locals() []Local {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Local, 0, len(t.localOrder))
	for _, id := range t.localOrder {
		out = append(out, t.locals[id])
	}
	return out
}

// LocalByMount finds a local volume by mount point or device name.
func (t *Topology) LocalByMount(s string) (Local, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.localOrder {
		l := t.locals[id]
		if l.MountPoint == s || (l.Device != "" && l.Device == s) || l.Name == s {
			return l, true
		}
	}
	return Local{}, false
}

// Group returns the storage group of camera.
func (t *Topology) Group(camera int) (Group, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	gi, ok := t.cameraGroup[camera]
	if !ok {
		return Group{}, false
	}
	return cloneGroup(t.groups[gi]), true
}

// Groups returns all storage groups.
func (t *Topology) Groups() []Group {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Group, len(t.groups))
	for i, g := range t.groups {
		out[i] = cloneGroup(g)
	}
	return out
}

func cloneGroup(g Group) Group {
	g.Volumes = append([]ID(nil), g.Volumes...)
	g.Cameras = append([]int(nil), g.Cameras...)
	return g
}

// VolumeMask returns the mask of volumes a camera may record to:
// its group volumes for local recording, the NAS slot otherwise.
func (t *Topology) VolumeMask(camera int) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id, ok := t.drive.NASVolume(); ok {
		return id.Bit()
	}
	gi, ok := t.cameraGroup[camera]
	if !ok {
		return 0
	}
	var mask uint32
	for _, id := range t.groups[gi].Volumes {
		mask |= id.Bit()
	}
	return mask
}

// Active returns the active volume of group gi.
func (t *Topology) Active(gi int) (ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.active[gi]
	return id, ok
}

// SetActive makes id the active volume of group gi.
func (t *Topology) SetActive(gi int, id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gi < 0 || gi >= len(t.groups) || !containsID(t.groups[gi].Volumes, id) {
		return fmt.Errorf("%w: %s not in group %d", ErrUnknownVolume, id, gi)
	}
	t.active[gi] = id
	return nil
}

// NextNormal picks the next Normal volume after the active one in group gi,
// in group order. It returns false when no other Normal volume exists.
func (t *Topology) NextNormal(gi int, reg HealthReader) (ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if gi < 0 || gi >= len(t.groups) {
		return 0, false
	}
	vols := t.groups[gi].Volumes
	cur := t.active[gi]
	start := 0
	for i, id := range vols {
		if id == cur {
			start = i
			break
		}
	}
	for step := 1; step < len(vols); step++ {
		id := vols[(start+step)%len(vols)]
		if reg.Health(id) == HealthNormal {
			return id, true
		}
	}
	return 0, false
}

// NormalCount returns how many volumes of group gi are Normal.
func (t *Topology) NormalCount(gi int, reg HealthReader) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if gi < 0 || gi >= len(t.groups) {
		return 0
	}
	n := 0
	for _, id := range t.groups[gi].Volumes {
		if reg.Health(id) == HealthNormal {
			n++
		}
	}
	return n
}

// Reselect moves every group whose active volume is NoDisk or Error onto a
// Normal member. Groups with no Normal member keep their current volume.
func (t *Topology) Reselect(reg HealthReader) []Switch {
	var out []Switch
	for _, g := range t.Groups() {
		cur, ok := t.Active(g.Index)
		if !ok {
			continue
		}
		if h := reg.Health(cur); h != HealthNoDisk && h != HealthError {
			continue
		}
		next, ok := t.NextNormal(g.Index, reg)
		if !ok {
			continue
		}
		if err := t.SetActive(g.Index, next); err == nil {
			out = append(out, Switch{Group: g.Index, From: cur, To: next, Cameras: g.Cameras})
		}
	}
	return out
}

// CamerasOn returns the cameras currently recording to id.
func (t *Topology) CamerasOn(id ID) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if nasID, ok := t.drive.NASVolume(); ok {
		if id != nasID {
			return nil
		}
		out := make([]int, 0, t.cameras)
		for c := 1; c <= t.cameras; c++ {
			out = append(out, c)
		}
		return out
	}
	var out []int
	for _, g := range t.groups {
		if t.active[g.Index] == id {
			out = append(out, g.Cameras...)
		}
	}
	sort.Ints(out)
	return out
}

// CamerasInGroup returns the cameras of group gi.
func (t *Topology) CamerasInGroup(gi int) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if gi < 0 || gi >= len(t.groups) {
		return nil
	}
	return append([]int(nil), t.groups[gi].Cameras...)
}

// IsRecordingTarget reports whether id is currently a recording target.
func (t *Topology) IsRecordingTarget(id ID) bool {
	return len(t.CamerasOn(id)) > 0
}

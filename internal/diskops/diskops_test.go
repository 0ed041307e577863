// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diskops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/checkpoint"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/index"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/jobs"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/layout"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/segment"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

type fakeVolumes struct {
	mu       sync.Mutex
	mounts   map[volume.ID]string
	targets  map[volume.ID]bool
	applied  []config.Snapshot
	err      error
	switches []volume.Switch
}

func (f *fakeVolumes) MountPoint(id volume.ID) (string, bool) {
	mp, ok := f.mounts[id]
	return mp, ok
}

func (f *fakeVolumes) Locals() []volume.Local {
	var out []volume.Local
	for id, mp := range f.mounts {
		if id.IsLocal() {
			out = append(out, volume.Local{ID: id, MountPoint: mp, Device: "/dev/sd" + string(rune('a'+int(id)))})
		}
	}
	return out
}

func (f *fakeVolumes) IsRecordingTarget(id volume.ID) bool { return f.targets[id] }

func (f *fakeVolumes) Apply(cfg config.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, cfg)
	return f.err
}

func (f *fakeVolumes) Reselect(volume.HealthReader) []volume.Switch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.switches
}

type fakeRecording struct {
	mu        sync.Mutex
	active    bool
	suspends  []volume.Drive
	resumes   []volume.Drive
	recording []config.RecordingConfig
	switched  [][]int
}

func (f *fakeRecording) Suspend(d volume.Drive) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspends = append(f.suspends, d)
	return f.active
}

func (f *fakeRecording) ResumeSuspended(d volume.Drive) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes = append(f.resumes, d)
}

func (f *fakeRecording) ApplyConfig(rc config.RecordingConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = append(f.recording, rc)
}

func (f *fakeRecording) SwitchDrive(cams []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = append(f.switched, cams)
}

func (f *fakeRecording) switches() [][]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]int(nil), f.switched...)
}

func (f *fakeRecording) calls() (suspends, resumes []volume.Drive) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]volume.Drive(nil), f.suspends...), append([]volume.Drive(nil), f.resumes...)
}

type fakeIndex struct {
	locks   index.Locks
	mu      sync.Mutex
	rebuilt []string
	err     error
}

func (f *fakeIndex) LockDrive(mount string) func() { return f.locks.Lock(mount) }

func (f *fakeIndex) Rebuild(_ context.Context, mount string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilt = append(f.rebuilt, mount)
	return 7, f.err
}

func (f *fakeIndex) mounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rebuilt...)
}

type blockingFormatter struct {
	mu      sync.Mutex
	calls   []Device
	started chan struct{}
	release chan struct{}
	err     error
}

func newBlockingFormatter() *blockingFormatter {
	return &blockingFormatter{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (f *blockingFormatter) Format(ctx context.Context, dev Device) error {
	f.mu.Lock()
	f.calls = append(f.calls, dev)
	f.mu.Unlock()
	f.started <- struct{}{}
	select {
	case <-f.release:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *blockingFormatter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type staticConfig struct{ cfg config.Snapshot }

func (s staticConfig) Get() config.Snapshot { return s.cfg }

type fixture struct {
	o       *Orchestrator
	pool    *jobs.Pool
	reg     *volume.Registry
	vols    *fakeVolumes
	rec     *fakeRecording
	idx     *fakeIndex
	format  *blockingFormatter
	events  *eventlog.Memory
	mounts  map[volume.ID]string
	storage *countingStorage
}

type countingStorage struct {
	mu      sync.Mutex
	n       int
	reg     *volume.Registry
	actions []volume.Action
}

// CheckAll records the local drive action in effect when capacity is checked.
func (c *countingStorage) CheckAll(context.Context) {
	c.mu.Lock()
	c.n++
	if c.reg != nil {
		c.actions = append(c.actions, c.reg.DriveAction(volume.DriveLocal))
	}
	c.mu.Unlock()
}

func (c *countingStorage) seen() []volume.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]volume.Action(nil), c.actions...)
}

func newFixture(t *testing.T, poolSize int, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		pool:   jobs.NewPool(context.Background(), poolSize),
		reg:    volume.NewRegistry(),
		rec:    &fakeRecording{active: true},
		idx:    &fakeIndex{},
		format: newBlockingFormatter(),
		events: eventlog.NewMemory(100),
		mounts: make(map[volume.ID]string),
	}
	f.storage = &countingStorage{reg: f.reg}
	for _, id := range []volume.ID{0, 1, 5, volume.NAS1} {
		f.mounts[id] = t.TempDir()
		f.reg.SetHealth(id, volume.HealthNormal)
	}
	f.vols = &fakeVolumes{mounts: f.mounts, targets: map[volume.ID]bool{0: true}}
	opts := Options{
		Pool:      f.pool,
		Registry:  f.reg,
		Volumes:   f.vols,
		Recording: f.rec,
		Storage:   f.storage,
		Index:     f.idx,
		Formatter: f.format,
		Config:    staticConfig{cfg: config.Snapshot{Cameras: 4}},
		Events:    eventlog.NewEmitter(f.events),
		Location:  time.UTC,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.o = New(opts)
	t.Cleanup(func() {
		f.o.Shutdown(time.Second)
		f.pool.Close(time.Second)
	})
	return f
}

func TestFormatLifecycle(t *testing.T) {
	f := newFixture(t, 4, nil)
	f.reg.SetNonFunctional(1, true)

	_, err := f.o.Format(1)
	require.NoError(t, err)
	<-f.format.started

	assert.True(t, f.reg.BuildInProgress(1))
	assert.Equal(t, volume.ActionFormat, f.reg.DriveAction(volume.DriveLocal))
	assert.True(t, f.o.Running(KindFormat))

	close(f.format.release)
	require.Eventually(t, func() bool { return !f.o.Running(KindFormat) }, waitFor, poll)

	assert.False(t, f.reg.BuildInProgress(1))
	assert.False(t, f.reg.NonFunctional(1))
	assert.Equal(t, volume.HealthNormal, f.reg.Health(1))
	assert.Equal(t, volume.ActionNormal, f.reg.DriveAction(volume.DriveLocal))
	assert.Equal(t, []string{f.mounts[1]}, f.idx.mounts())

	suspends, resumes := f.rec.calls()
	assert.Equal(t, []volume.Drive{volume.DriveLocal}, suspends)
	assert.Equal(t, []volume.Drive{volume.DriveLocal}, resumes)
	assert.Len(t, f.events.Find("format", eventlog.StateDone), 1)
	assert.Equal(t, "/dev/sdb", f.format.calls[0].Path)
}

func TestFormatBusyWhileActive(t *testing.T) {
	f := newFixture(t, 4, nil)

	_, err := f.o.Format(0)
	require.NoError(t, err)
	<-f.format.started

	_, err = f.o.Format(5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Contains(t, err.Error(), "unable to format")
	assert.Equal(t, 1, f.format.count())

	close(f.format.release)
	require.Eventually(t, func() bool { return !f.o.Running(KindFormat) }, waitFor, poll)
}

func TestFormatNoResumeWithoutSuspend(t *testing.T) {
	f := newFixture(t, 4, nil)
	f.rec.active = false
	close(f.format.release)

	_, err := f.o.Format(0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.events.Find("format", eventlog.StateDone)) == 1 }, waitFor, poll)

	_, resumes := f.rec.calls()
	assert.Empty(t, resumes)
}

func TestFormatFailureLeavesNonFunctional(t *testing.T) {
	f := newFixture(t, 4, nil)
	f.format.err = errors.New("mkfs failed")
	close(f.format.release)

	_, err := f.o.Format(1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.events.Find("format", eventlog.StateFail)) == 1 }, waitFor, poll)
	require.Eventually(t, func() bool { return !f.o.Running(KindFormat) }, waitFor, poll)

	assert.True(t, f.reg.NonFunctional(1))
	assert.Equal(t, volume.HealthError, f.reg.Health(1))
	assert.Equal(t, volume.ActionNormal, f.reg.DriveAction(volume.DriveLocal))
	assert.Empty(t, f.idx.mounts())
}

func TestFormatSpawnFailureRollsBack(t *testing.T) {
	f := newFixture(t, 1, nil)

	// Occupy the only worker.
	block := make(chan struct{})
	require.NoError(t, f.pool.Go("holder", func(context.Context) { <-block }))
	defer close(block)

	_, err := f.o.Format(0)
	assert.ErrorIs(t, err, ErrProcess)
	assert.False(t, f.o.Running(KindFormat))
	assert.Zero(t, f.format.count())
	assert.False(t, f.reg.BuildInProgress(0))
}

func TestFormatUnknownMedia(t *testing.T) {
	f := newFixture(t, 4, nil)
	_, err := f.o.Format(9)
	assert.ErrorIs(t, err, ErrNotFormattable)
}

func TestRecoverReleasesOrphansAndRebuilds(t *testing.T) {
	f := newFixture(t, 4, nil)
	mount := f.mounts[0]
	f.reg.SetHealth(0, volume.HealthNoDisk)
	f.reg.SetNonFunctional(0, true)

	hour := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	dir := layout.HourPath(mount, 2, hour)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// A crash leaves the in-use marker and a torn segment behind.
	require.NoError(t, os.WriteFile(filepath.Join(dir, layout.InUseMarker), nil, 0o644))
	seg := filepath.Join(dir, "100000_main"+segment.Extension)
	require.NoError(t, os.WriteFile(seg, []byte{0, 0, 0, 1}, 0o644))
	require.True(t, layout.IsSkipped(dir))

	_, err := f.o.Recover(0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.events.Find("recovery", eventlog.StateDone)) == 1 }, waitFor, poll)
	require.Eventually(t, func() bool { return !f.o.Running(KindRecovery) }, waitFor, poll)

	assert.False(t, layout.IsSkipped(dir))
	assert.Equal(t, []string{mount}, f.idx.mounts())
	assert.Equal(t, volume.HealthNormal, f.reg.Health(0))
	assert.False(t, f.reg.NonFunctional(0))
	assert.Equal(t, volume.ActionNormal, f.reg.DriveAction(volume.DriveLocal))

	suspends, resumes := f.rec.calls()
	assert.Equal(t, []volume.Drive{volume.DriveLocal}, suspends)
	assert.Equal(t, []volume.Drive{volume.DriveLocal}, resumes)

	fi, err := os.Stat(seg)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())
}

func TestRecoverSkipsSuspendForIdleMedia(t *testing.T) {
	f := newFixture(t, 4, nil)
	_, err := f.o.Recover(volume.NAS1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.events.Find("recovery", eventlog.StateDone)) == 1 }, waitFor, poll)

	suspends, _ := f.rec.calls()
	assert.Empty(t, suspends)
}

func TestRecoverIndexFailure(t *testing.T) {
	f := newFixture(t, 4, nil)
	f.idx.err = errors.New("database is locked")

	_, err := f.o.Recover(1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.events.Find("recovery", eventlog.StateFail)) == 1 }, waitFor, poll)
	require.Eventually(t, func() bool { return !f.o.Running(KindRecovery) }, waitFor, poll)
	assert.True(t, f.reg.NonFunctional(1))
}

func TestRecoverStartsReencodeFromCheckpoints(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	hour := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(checkpoint.FromTime(3, hour)))

	f := newFixture(t, 4, func(o *Options) {
		o.Checkpoints = store
		o.Reencoder = SegmentRepairer{Location: time.UTC}
		o.Config = staticConfig{cfg: config.Snapshot{Cameras: 4, Recording: config.RecordingConfig{AVIReencode: true}}}
	})
	mount := f.mounts[0]
	dir := layout.HourPath(mount, 3, hour)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	seg := filepath.Join(dir, "100000_main"+segment.Extension)
	require.NoError(t, os.WriteFile(seg, []byte{1, 2, 3}, 0o644))

	_, err = f.o.Recover(0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := store.Load(3)
		return errors.Is(err, checkpoint.ErrNotFound)
	}, waitFor, poll)

	fi, err := os.Stat(seg)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())
}

func TestUnplugReportsThroughCallback(t *testing.T) {
	unmounted := make(chan string, 1)
	f := newFixture(t, 4, func(o *Options) {
		o.Unmounter = unmountFunc(func(_ context.Context, device string) error {
			unmounted <- device
			return nil
		})
	})

	got := make(chan error, 1)
	_, err := f.o.Unplug("/media/usb1", func(device string, err error) {
		assert.Equal(t, "/media/usb1", device)
		got <- err
	})
	require.NoError(t, err)
	assert.NoError(t, <-got)
	assert.Equal(t, "/media/usb1", <-unmounted)
	require.Eventually(t, func() bool { return len(f.events.Find("disconnect", eventlog.StateDone)) == 1 }, waitFor, poll)
}

func TestUnplugFailureSkipsEvent(t *testing.T) {
	f := newFixture(t, 4, func(o *Options) {
		o.Unmounter = unmountFunc(func(context.Context, string) error { return errors.New("target is busy") })
	})
	got := make(chan error, 1)
	_, err := f.o.Unplug("/media/usb1", func(_ string, err error) { got <- err })
	require.NoError(t, err)
	assert.Error(t, <-got)
	require.Eventually(t, func() bool { return !f.o.Running(KindUnplug) }, waitFor, poll)
	assert.Empty(t, f.events.Find("disconnect", eventlog.StateDone))
}

type unmountFunc func(ctx context.Context, device string) error

func (fn unmountFunc) Unmount(ctx context.Context, device string) error { return fn(ctx, device) }

func TestConfigChangeSuspendsAndRestarts(t *testing.T) {
	f := newFixture(t, 4, nil)
	cfg := config.Snapshot{ConfigVersion: "v2", Recording: config.RecordingConfig{ConfigChangeDelay: 50 * time.Millisecond}}

	_, err := f.o.ConfigChange(cfg)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.reg.DriveAction(volume.DriveNAS2) == volume.ActionConfigChange
	}, waitFor, poll)

	_, err = f.o.ConfigChange(cfg)
	assert.ErrorIs(t, err, ErrBusy)

	require.Eventually(t, func() bool { return len(f.events.Find("config_change", eventlog.StateDone)) == 1 }, waitFor, poll)
	for _, d := range volume.Drives {
		assert.Equal(t, volume.ActionNormal, f.reg.DriveAction(d))
	}
	suspends, resumes := f.rec.calls()
	assert.Equal(t, []volume.Drive{volume.AllDrives}, suspends)
	assert.Equal(t, []volume.Drive{volume.AllDrives}, resumes)

	f.vols.mu.Lock()
	assert.Len(t, f.vols.applied, 1)
	f.vols.mu.Unlock()
	f.storage.mu.Lock()
	assert.Equal(t, 1, f.storage.n)
	f.storage.mu.Unlock()
}

func TestFormatChecksCapacityAfterActionCleared(t *testing.T) {
	f := newFixture(t, 4, nil)
	close(f.format.release)

	_, err := f.o.Format(1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.events.Find("format", eventlog.StateDone)) == 1 }, waitFor, poll)

	assert.Equal(t, []volume.Action{volume.ActionNormal}, f.storage.seen())
}

func TestRecoverChecksCapacityAfterActionCleared(t *testing.T) {
	f := newFixture(t, 4, nil)

	_, err := f.o.Recover(0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.events.Find("recovery", eventlog.StateDone)) == 1 }, waitFor, poll)

	assert.Equal(t, []volume.Action{volume.ActionNormal}, f.storage.seen())
}

func TestConfigChangeMovesCamerasOffFailedVolume(t *testing.T) {
	f := newFixture(t, 4, nil)
	f.vols.switches = []volume.Switch{{Group: 0, From: 0, To: 1, Cameras: []int{1, 2}}}

	_, err := f.o.ConfigChange(config.Snapshot{ConfigVersion: "v3"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.events.Find("config_change", eventlog.StateDone)) == 1 }, waitFor, poll)

	assert.Equal(t, [][]int{{1, 2}}, f.rec.switches())
	_, resumes := f.rec.calls()
	assert.Equal(t, []volume.Drive{volume.AllDrives}, resumes)
}

func TestConfigChangeTopologyRejected(t *testing.T) {
	f := newFixture(t, 4, nil)
	f.vols.err = errors.New("group references unknown volume")

	_, err := f.o.ConfigChange(config.Snapshot{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.events.Find("config_change", eventlog.StateFail)) == 1 }, waitFor, poll)
	assert.Equal(t, volume.ActionNormal, f.reg.DriveAction(volume.DriveLocal))
}

func TestWipeFormatterRemovesCameraTrees(t *testing.T) {
	mount := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(mount, "CAM01", "2025-03-01", "10"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(mount, "lost+found"), 0o755))

	require.NoError(t, WipeFormatter{}.Format(context.Background(), Device{MountPoint: mount}))
	assert.NoDirExists(t, filepath.Join(mount, "CAM01"))
	assert.DirExists(t, filepath.Join(mount, "lost+found"))
}

func TestExecFormatterExpandsPlaceholders(t *testing.T) {
	mount := t.TempDir()
	f := ExecFormatter{Command: []string{"sh", "-c", "touch {mount}/formatted"}}
	require.NoError(t, f.Format(context.Background(), Device{MountPoint: mount}))
	assert.FileExists(t, filepath.Join(mount, "formatted"))

	bad := ExecFormatter{Command: []string{"sh", "-c", "echo nope >&2; exit 1"}}
	err := bad.Format(context.Background(), Device{MountPoint: mount})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/camera"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/timer"
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

type streamCall struct {
	camera  int
	stream  string
	purpose camera.Purpose
}

type fakeCamera struct {
	mu       sync.Mutex
	starts   []streamCall
	stops    []streamCall
	frames   map[int][]camera.Frame
	endless  bool
	startErr error
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{frames: make(map[int][]camera.Frame)}
}

func (f *fakeCamera) StartStream(cam int, stream string, p camera.Purpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, streamCall{cam, stream, p})
	return f.startErr
}

func (f *fakeCamera) StopStream(cam int, stream string, p camera.Purpose) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, streamCall{cam, stream, p})
}

func (f *fakeCamera) Drain(cam, max int) ([]camera.Frame, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endless {
		return []camera.Frame{{Camera: cam, Time: time.Now().Add(time.Hour), KeyFrame: true}}, 1
	}
	out := f.frames[cam]
	if len(out) > max {
		out = out[:max]
	}
	f.frames[cam] = f.frames[cam][len(out):]
	return out, len(f.frames[cam])
}

func (f *fakeCamera) push(frames ...camera.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fr := range frames {
		f.frames[fr.Camera] = append(f.frames[fr.Camera], fr)
	}
}

func (f *fakeCamera) setEndless() {
	f.mu.Lock()
	f.endless = true
	f.mu.Unlock()
}

func (f *fakeCamera) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeCamera) lastStart() streamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.starts) == 0 {
		return streamCall{}
	}
	return f.starts[len(f.starts)-1]
}

func (f *fakeCamera) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stops)
}

type fakeWriter struct {
	mu       sync.Mutex
	opens    []volume.Target
	closes   int
	frames   []camera.Frame
	writeErr error
}

func (w *fakeWriter) Open(_ int, tgt volume.Target, _ string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opens = append(w.opens, tgt)
	return nil
}

func (w *fakeWriter) Write(_ int, f camera.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return w.writeErr
	}
	w.frames = append(w.frames, f)
	return nil
}

func (w *fakeWriter) Close(int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	return nil
}

func (w *fakeWriter) counts() (opens, closes, frames int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.opens), w.closes, len(w.frames)
}

type fakeTargets struct{}

func (fakeTargets) Resolve(cam int) (volume.Target, error) {
	return volume.Target{Camera: cam, Drive: volume.DriveLocal, Volume: 0, MountPoint: "/media/hdd1"}, nil
}

type countingMonitor struct {
	mu sync.Mutex
	n  int
}

func (c *countingMonitor) Notify(int) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

type fixture struct {
	m      *Manager
	cam    *fakeCamera
	writer *fakeWriter
	reg    *volume.Registry
	events *eventlog.Memory
	mon    *countingMonitor
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		cam:    newFakeCamera(),
		writer: &fakeWriter{},
		reg:    volume.NewRegistry(),
		events: eventlog.NewMemory(100),
		mon:    &countingMonitor{},
	}
	f.reg.SetHealth(0, volume.HealthNormal)
	opts := Options{
		Cameras:    4,
		Writer:     f.writer,
		Camera:     f.cam,
		Targets:    fakeTargets{},
		Health:     f.reg,
		Monitor:    f.mon,
		Events:     eventlog.NewEmitter(f.events),
		RetryDelay: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.m = New(opts)
	return f
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func (f *fixture) state(t *testing.T, cam int) string {
	t.Helper()
	info, err := f.m.Session(cam)
	require.NoError(t, err)
	return info.State
}

func (f *fixture) waitState(t *testing.T, cam int, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.state(t, cam) == want.String() }, waitFor, poll, "camera %d never reached %s", cam, want)
}

// startOn brings cam into On with the given type.
func (f *fixture) startOn(t *testing.T, cam int, rt RecordType) {
	t.Helper()
	n := f.cam.startCount()
	events := len(f.events.Find(eventlog.SubtypeRecordStart, eventlog.StateStart))
	require.NoError(t, f.m.StartRecord(cam, rt, "tester"))
	require.Eventually(t, func() bool { return f.cam.startCount() > n }, waitFor, poll)
	f.m.OnStreamStarted(cam, f.cam.lastStart().stream)
	f.waitState(t, cam, StateOn)
	require.Eventually(t, func() bool {
		return len(f.events.Find(eventlog.SubtypeRecordStart, eventlog.StateStart)) > events
	}, waitFor, poll)
}

func TestStartRecordFromOff(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)

	require.NoError(t, f.m.StartRecord(2, Schedule, ""))
	assert.Equal(t, "on_wait", f.state(t, 2))

	require.Eventually(t, func() bool { return f.cam.startCount() == 1 }, waitFor, poll)
	assert.Equal(t, streamCall{camera: 2, stream: config.StreamMain, purpose: camera.PurposeRecord}, f.cam.lastStart())

	f.m.OnStreamStarted(2, config.StreamMain)
	f.waitState(t, 2, StateOn)

	require.Eventually(t, func() bool { return len(f.events.Find(eventlog.SubtypeRecordStart, eventlog.StateStart)) == 1 }, waitFor, poll)
	ev := f.events.Find(eventlog.SubtypeRecordStart, eventlog.StateStart)[0]
	assert.Equal(t, "camera 2", ev.Detail)
	assert.Contains(t, ev.AdvancedDetail, "reason=none")
	assert.Contains(t, ev.AdvancedDetail, "type=schedule")

	opens, _, _ := f.writer.counts()
	assert.Equal(t, 1, opens)

	info, err := f.m.Session(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"schedule"}, info.Types)
	assert.Equal(t, "none", info.FailReason)
}

func TestStopLastTypeTearsDown(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 1, Manual)

	require.NoError(t, f.m.StopRecord(1, Manual, false))
	st := f.state(t, 1)
	assert.Contains(t, []string{"off_wait", "off"}, st)

	f.waitState(t, 1, StateOff)
	_, closes, _ := f.writer.counts()
	assert.Equal(t, 1, closes)
	assert.Equal(t, 1, f.cam.stopCount())
	assert.Len(t, f.events.Find(eventlog.SubtypeRecordStop, eventlog.StateStop), 1)

	info, err := f.m.Session(1)
	require.NoError(t, err)
	assert.Empty(t, info.Types)
}

func TestRepeatedStartIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 1, Manual)

	require.NoError(t, f.m.StartRecord(1, Manual, ""))
	require.NoError(t, f.m.StopRecord(1, Schedule, false))

	assert.Equal(t, "on", f.state(t, 1))
	assert.Len(t, f.events.Find(eventlog.SubtypeRecordStart, eventlog.StateStart), 1)
	assert.Empty(t, f.events.Find(eventlog.SubtypeRecordStop, eventlog.StateStop))
}

func TestAddTypeWhileOnEmitsStart(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 3, Schedule)

	require.NoError(t, f.m.StartRecord(3, Manual, "admin"))
	starts := f.events.Find(eventlog.SubtypeRecordStart, eventlog.StateStart)
	require.Len(t, starts, 2)
	assert.Contains(t, starts[1].AdvancedDetail, "type=manual")

	info, err := f.m.Session(3)
	require.NoError(t, err)
	assert.Equal(t, []string{"manual", "schedule"}, info.Types)
	assert.Equal(t, "admin", info.Users["manual"])
}

func TestAlarmReferenceCounting(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 1, Alarm)
	assert.Equal(t, camera.PurposePreAlarm, f.cam.lastStart().purpose)

	require.NoError(t, f.m.StartRecord(1, Alarm, ""))
	info, _ := f.m.Session(1)
	assert.Equal(t, 2, info.AlarmRefs)

	require.NoError(t, f.m.StopRecord(1, Alarm, false))
	assert.Equal(t, "on", f.state(t, 1))

	require.NoError(t, f.m.StopRecord(1, Alarm, false))
	f.waitState(t, 1, StateOff)
}

func TestForcedAlarmStopIgnoresReferences(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 1, Alarm)
	require.NoError(t, f.m.StartRecord(1, Alarm, ""))

	require.NoError(t, f.m.StopRecord(1, Alarm, true))
	f.waitState(t, 1, StateOff)
}

func TestPostAlarmStopDelay(t *testing.T) {
	timers := timer.New(100 * time.Millisecond)
	f := newFixture(t, func(o *Options) {
		o.Timers = timers
		o.Recording.PostAlarmStop = time.Second
	})
	f.run(t)
	f.startOn(t, 2, Alarm)

	require.NoError(t, f.m.StopRecord(2, Alarm, false))
	timers.Advance(5)
	assert.Equal(t, "on", f.state(t, 2))

	// A new trigger cancels the pending stop.
	require.NoError(t, f.m.StartRecord(2, Alarm, ""))
	timers.Advance(10)
	assert.Equal(t, "on", f.state(t, 2))

	require.NoError(t, f.m.StopRecord(2, Alarm, false))
	timers.Advance(10)
	f.waitState(t, 2, StateOff)
	assert.Len(t, f.events.Find(eventlog.SubtypeRecordStop, eventlog.StateStop), 1)
}

func TestCosecAutoStop(t *testing.T) {
	timers := timer.New(100 * time.Millisecond)
	f := newFixture(t, func(o *Options) {
		o.Timers = timers
		o.Recording.PostCosecStop = time.Second
	})
	f.run(t)
	f.startOn(t, 1, Cosec)
	assert.Equal(t, camera.PurposePreCosec, f.cam.lastStart().purpose)

	timers.Advance(8)
	require.NoError(t, f.m.StartRecord(1, Cosec, ""))
	timers.Advance(8)
	assert.Equal(t, "on", f.state(t, 1))

	timers.Advance(2)
	f.waitState(t, 1, StateOff)
}

func TestCosecRenewalSurvivesFiredTimer(t *testing.T) {
	timers := timer.New(100 * time.Millisecond)
	f := newFixture(t, func(o *Options) {
		o.Timers = timers
		o.Recording.PostCosecStop = time.Second
	})
	f.run(t)
	f.startOn(t, 1, Cosec)

	f.m.mu.Lock()
	s := f.m.sessions[1]
	s.mu.Lock()
	old := s.stopTimers[Cosec]
	s.mu.Unlock()

	// The timer fires while the manager is held; its callback waits.
	fired := make(chan struct{})
	go func() {
		timers.Advance(10)
		close(fired)
	}()
	require.Eventually(t, func() bool { return !timers.Active(old) }, waitFor, poll)

	// A renewal in that window cannot reload the fired timer and arms a new one.
	s.mu.Lock()
	f.m.armCosecLocked(s)
	renewed := s.stopTimers[Cosec]
	s.mu.Unlock()
	f.m.mu.Unlock()
	<-fired

	f.m.mu.Lock()
	s.mu.Lock()
	cur, armed := s.stopTimers[Cosec]
	types := s.types
	s.mu.Unlock()
	f.m.mu.Unlock()
	require.NotEqual(t, old, renewed)
	assert.True(t, armed)
	assert.Equal(t, renewed, cur)
	assert.NotZero(t, types&Cosec)
	assert.True(t, timers.Active(renewed))

	timers.Advance(10)
	f.waitState(t, 1, StateOff)
}

func TestStreamStartFailureResetsTypes(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)

	require.NoError(t, f.m.StartRecord(1, Manual, ""))
	require.Eventually(t, func() bool { return f.cam.startCount() == 1 }, waitFor, poll)
	f.m.OnStreamFailed(1, config.StreamMain, false)

	f.waitState(t, 1, StateOff)
	info, err := f.m.Session(1)
	require.NoError(t, err)
	assert.Empty(t, info.Types)
	assert.Equal(t, "video_loss", info.FailReason)

	fails := f.events.Find(eventlog.SubtypeRecordFail, eventlog.StateFail)
	require.Len(t, fails, 1)
	assert.Contains(t, fails[0].AdvancedDetail, "reason=video_loss")
}

func TestLateStartConfirmationAfterStopIsDropped(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 1, Manual)

	require.NoError(t, f.m.StopRecord(1, Manual, true))
	f.waitState(t, 1, StateOff)
	require.Eventually(t, func() bool { return f.cam.stopCount() == 1 }, waitFor, poll)

	// The torn-down stream confirms late, then recording is requested again.
	f.m.OnStreamStarted(1, config.StreamMain)
	require.NoError(t, f.m.StartRecord(1, Manual, "tester"))
	require.Eventually(t, func() bool { return f.cam.startCount() == 2 }, waitFor, poll)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateOnWait.String(), f.state(t, 1))
	opens, _, _ := f.writer.counts()
	assert.Equal(t, 1, opens)

	f.m.OnStreamStarted(1, config.StreamMain)
	f.waitState(t, 1, StateOn)
	require.Eventually(t, func() bool {
		opens, _, _ := f.writer.counts()
		return opens == 2
	}, waitFor, poll)
}

func TestLateFailureBeforeRestartKeepsTypes(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 2, Manual)

	require.NoError(t, f.m.StopRecord(2, Manual, true))
	f.waitState(t, 2, StateOff)

	f.m.OnStreamFailed(2, config.StreamMain, true)
	require.NoError(t, f.m.StartRecord(2, Schedule, ""))
	require.Eventually(t, func() bool { return f.cam.startCount() == 2 }, waitFor, poll)

	time.Sleep(50 * time.Millisecond)
	info, err := f.m.Session(2)
	require.NoError(t, err)
	assert.Equal(t, []string{Schedule.String()}, info.Types)
	assert.Equal(t, StateOnWait.String(), info.State)
}

func TestSynchronousStartErrorFails(t *testing.T) {
	f := newFixture(t, nil)
	f.cam.startErr = errors.New("no route")
	f.run(t)

	require.NoError(t, f.m.StartRecord(4, Manual, ""))
	f.waitState(t, 4, StateOff)
}

func TestFullDiskStopsOnStart(t *testing.T) {
	f := newFixture(t, nil)
	f.reg.SetHealth(0, volume.HealthFull)
	f.run(t)

	require.NoError(t, f.m.StartRecord(1, Manual, ""))
	require.Eventually(t, func() bool { return f.cam.startCount() == 1 }, waitFor, poll)
	f.m.OnStreamStarted(1, config.StreamMain)

	f.waitState(t, 1, StateOff)
	info, _ := f.m.Session(1)
	assert.Equal(t, "disk_full", info.FailReason)
	opens, _, _ := f.writer.counts()
	assert.Zero(t, opens)
}

func TestWritesAfterFirstKeyFrame(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 1, Manual)

	later := time.Now().Add(time.Hour)
	f.cam.push(
		camera.Frame{Camera: 1, Seq: 1, Time: later},
		camera.Frame{Camera: 1, Seq: 2, Time: later, KeyFrame: true},
		camera.Frame{Camera: 1, Seq: 3, Time: later},
	)
	f.m.OnMediaAvailable(1)

	require.Eventually(t, func() bool {
		_, _, n := f.writer.counts()
		return n == 2
	}, waitFor, poll)
	f.writer.mu.Lock()
	assert.Equal(t, uint64(2), f.writer.frames[0].Seq)
	f.writer.mu.Unlock()

	f.mon.mu.Lock()
	assert.Positive(t, f.mon.n)
	f.mon.mu.Unlock()
}

func TestPreRecordFramesSkippedUnlessEnabled(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 1, Manual)

	earlier := time.Now().Add(-time.Hour)
	f.cam.push(
		camera.Frame{Camera: 1, Seq: 1, Time: earlier, KeyFrame: true},
		camera.Frame{Camera: 1, Seq: 2, Time: time.Now().Add(time.Hour), KeyFrame: true},
	)
	f.m.OnMediaAvailable(1)

	require.Eventually(t, func() bool {
		_, _, n := f.writer.counts()
		return n == 1
	}, waitFor, poll)
	f.writer.mu.Lock()
	assert.Equal(t, uint64(2), f.writer.frames[0].Seq)
	f.writer.mu.Unlock()
}

func TestAdaptiveScheduleKeepsKeyFramesOnly(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Recording.CameraConfigs = []config.CameraRecord{{Camera: 1, Stream: config.StreamMain, Adaptive: true}}
	})
	f.run(t)
	f.startOn(t, 1, Schedule)

	later := time.Now().Add(time.Hour)
	f.cam.push(
		camera.Frame{Camera: 1, Seq: 1, Time: later, KeyFrame: true},
		camera.Frame{Camera: 1, Seq: 2, Time: later},
		camera.Frame{Camera: 1, Seq: 3, Time: later, KeyFrame: true},
	)
	f.m.OnMediaAvailable(1)

	require.Eventually(t, func() bool {
		_, _, n := f.writer.counts()
		return n == 2
	}, waitFor, poll)
}

func TestInterruptAndResume(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 1, Manual)

	f.m.Interrupt([]int{1})
	f.waitState(t, 1, StateRestartCleanup)
	_, closes, _ := f.writer.counts()
	assert.Equal(t, 1, closes)

	f.m.Resume([]int{1})
	f.waitState(t, 1, StateOn)
	opens, _, _ := f.writer.counts()
	assert.Equal(t, 2, opens)
	// The stream stayed up across the restart.
	assert.Equal(t, 1, f.cam.startCount())
}

func TestSuspendByDrive(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 2, Manual)

	assert.False(t, f.m.Suspend(volume.DriveNAS1))
	assert.True(t, f.m.Recording(volume.DriveLocal))
	assert.True(t, f.m.Suspend(volume.DriveLocal))
	f.waitState(t, 2, StateRestartCleanup)

	f.m.ResumeSuspended(volume.DriveLocal)
	f.waitState(t, 2, StateOn)
}

func TestDriveSwitchReopens(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 1, Manual)

	f.m.SwitchDrive([]int{1})
	require.Eventually(t, func() bool {
		opens, closes, _ := f.writer.counts()
		return opens == 2 && closes == 1
	}, waitFor, poll)
	f.waitState(t, 1, StateOn)
}

func TestRepeatedWriteFailuresMarkDrive(t *testing.T) {
	f := newFixture(t, nil)
	f.writer.writeErr = errors.New("input/output error")
	f.run(t)
	f.startOn(t, 1, Manual)
	f.cam.setEndless()
	f.m.OnMediaAvailable(1)

	require.Eventually(t, func() bool { return f.reg.DriveAction(volume.DriveLocal) == volume.ActionIoError }, waitFor, poll)
	f.waitState(t, 1, StateRestartCleanup)
	require.Eventually(t, func() bool {
		info, _ := f.m.Session(1)
		return info.FailReason == "disk_fault"
	}, waitFor, poll)
	assert.NotEmpty(t, f.events.Find(eventlog.SubtypeDiskFault, eventlog.StateActive))
}

func TestSwitchStream(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	f.startOn(t, 1, Manual)

	require.NoError(t, f.m.SwitchStream(1, config.StreamSub))
	require.Eventually(t, func() bool { return f.cam.lastStart().stream == config.StreamSub }, waitFor, poll)
	assert.Equal(t, 1, f.cam.stopCount())

	// A late callback for the old stream is ignored.
	f.m.OnStreamStarted(1, config.StreamMain)
	f.m.OnStreamStarted(1, config.StreamSub)
	f.waitState(t, 1, StateOn)

	info, _ := f.m.Session(1)
	assert.Equal(t, config.StreamSub, info.Stream)
	require.Eventually(t, func() bool {
		return len(f.events.Find(eventlog.SubtypeStreamSwitched, eventlog.StateDone)) == 1
	}, waitFor, poll)

	assert.Error(t, f.m.SwitchStream(1, "third"))
}

func TestApplyConfigSwitchesIdleStream(t *testing.T) {
	f := newFixture(t, nil)
	f.m.ApplyConfig(config.RecordingConfig{CameraConfigs: []config.CameraRecord{{Camera: 3, Stream: config.StreamSub}}})

	info, err := f.m.Session(3)
	require.NoError(t, err)
	assert.Equal(t, config.StreamSub, info.Stream)
}

func TestUnknownInputs(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.m.StartRecord(0, Manual, ""), ErrUnknownCamera)
	assert.ErrorIs(t, f.m.StartRecord(9, Manual, ""), ErrUnknownCamera)
	assert.ErrorIs(t, f.m.StartRecord(1, Manual|Alarm, ""), ErrUnknownType)
	assert.ErrorIs(t, f.m.StopRecord(1, 0, false), ErrUnknownType)
	_, err := f.m.Session(5)
	assert.ErrorIs(t, err, ErrUnknownCamera)
}

func TestRunShutdownResetsSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx) }()
	f.startOn(t, 1, Manual)
	require.NoError(t, f.m.StartRecord(2, Alarm, ""))

	cancel()
	require.NoError(t, <-done)

	for _, info := range f.m.Sessions() {
		assert.Equal(t, "off", info.State, "camera %d", info.Camera)
		assert.Empty(t, info.Types)
	}
	_, closes, _ := f.writer.counts()
	assert.Equal(t, 1, closes)
	assert.ErrorIs(t, f.m.StartRecord(1, Manual, ""), ErrStopped)
}

func TestRunTwice(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t)
	require.Eventually(t, func() bool {
		f.m.mu.Lock()
		defer f.m.mu.Unlock()
		return f.m.running
	}, waitFor, poll)
	err := f.m.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestSessionsListsEveryCamera(t *testing.T) {
	f := newFixture(t, nil)
	infos := f.m.Sessions()
	require.Len(t, infos, 4)
	for i, info := range infos {
		assert.Equal(t, i+1, info.Camera)
		assert.True(t, strings.HasPrefix(info.State, "off"))
	}
}

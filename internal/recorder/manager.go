// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recorder runs the per-camera recording sessions. Requests and
// camera callbacks only mark sessions; a single dispatch goroutine applies
// the state transitions and performs the stream and writer side effects.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/camera"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/metrics"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/timer"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
	"github.com/rs/zerolog"
)

// Defaults.
const (
	DefaultFramesPerPass = 32
	DefaultRetryDelay    = 2 * time.Second
	DefaultMaxIOFailures = 3
)

// StorageWriter persists frames of an open recording.
type StorageWriter interface {
	Open(camera int, target volume.Target, stream string) error
	Write(camera int, f camera.Frame) error
	Close(camera int) error
}

// Camera requests streams and hands out buffered frames.
type Camera interface {
	StartStream(camera int, stream string, purpose camera.Purpose) error
	StopStream(camera int, stream string, purpose camera.Purpose)
	Drain(camera, max int) ([]camera.Frame, int)
}

// Targets resolves the recording target of a camera.
type Targets interface {
	Resolve(camera int) (volume.Target, error)
}

// HealthSource reports whether a target accepts writes.
type HealthSource interface {
	Health(id volume.ID) volume.Health
	Status(id volume.ID) volume.Status
	DriveAction(d volume.Drive) volume.Action
	SetDriveAction(d volume.Drive, a volume.Action)
}

// Monitor is told about written media so it can re-check space.
type Monitor interface {
	Notify(camera int)
}

// Options configures a Manager.
type Options struct {
	Cameras   int
	Writer    StorageWriter
	Camera    Camera
	Targets   Targets
	Health    HealthSource
	Monitor   Monitor
	Events    *eventlog.Emitter
	Timers    *timer.Facility
	Recording config.RecordingConfig
	Now       func() time.Time

	FramesPerPass int
	RetryDelay    time.Duration
	MaxIOFailures int
}

type pendingEvent struct {
	subtype  string
	detail   string
	advanced string
	state    eventlog.State
}

// Manager owns every recording session.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	sessions  []*session
	pending   int
	next      int
	running   bool
	terminate bool

	recMu sync.RWMutex
	rec   config.RecordingConfig
}

// New creates a manager for cameras 1..Cameras.
func New(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FramesPerPass <= 0 {
		opts.FramesPerPass = DefaultFramesPerPass
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxIOFailures <= 0 {
		opts.MaxIOFailures = DefaultMaxIOFailures
	}
	m := &Manager{
		opts:     opts,
		logger:   xglog.WithComponent("recorder"),
		sessions: make([]*session, opts.Cameras+1),
		rec:      opts.Recording,
	}
	m.cond = sync.NewCond(&m.mu)
	for cam := 1; cam <= opts.Cameras; cam++ {
		m.sessions[cam] = newSession(cam, m.recordConfig(cam).Stream)
	}
	return m
}

func (m *Manager) recordConfig(cam int) config.CameraRecord {
	m.recMu.RLock()
	defer m.recMu.RUnlock()
	for _, c := range m.rec.CameraConfigs {
		if c.Camera == cam {
			if c.Stream == "" {
				c.Stream = config.StreamMain
			}
			return c
		}
	}
	return config.CameraRecord{Camera: cam, Stream: config.StreamMain}
}

func (m *Manager) recording() config.RecordingConfig {
	m.recMu.RLock()
	defer m.recMu.RUnlock()
	return m.rec
}

func (m *Manager) sessionLocked(cam int) (*session, error) {
	if cam <= 0 || cam >= len(m.sessions) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCamera, cam)
	}
	return m.sessions[cam], nil
}

func (m *Manager) flagLocked(s *session) {
	if !s.needsWork {
		s.needsWork = true
		m.pending++
	}
	m.cond.Signal()
}

func (m *Manager) setStateLocked(s *session, st State) {
	if s.state == st {
		return
	}
	m.logger.Debug().
		Str(xglog.FieldEvent, "recorder.transition").
		Int(xglog.FieldCamera, s.camera).
		Str(xglog.FieldOldState, s.state.String()).
		Str(xglog.FieldNewState, st.String()).
		Msg("session transition")
	s.state = st
	if st == StateOff || st == StateOffWait {
		s.signals = nil
		s.streamWanted = false
	}
	metrics.RecordSessionTransition(st.String())
	n := 0
	for _, other := range m.sessions {
		if other != nil && other.state == StateOn {
			n++
		}
	}
	metrics.SetSessionsRecording(n)
}

func (m *Manager) emit(cam int, evs []pendingEvent) {
	for _, ev := range evs {
		m.opts.Events.Emit(context.Background(), eventlog.CategoryRecording, ev.subtype, ev.detail, ev.advanced, ev.state)
	}
}

func cameraDetail(cam int) string {
	return fmt.Sprintf("camera %d", cam)
}

func startEvent(cam int, t RecordType) pendingEvent {
	return pendingEvent{
		subtype:  eventlog.SubtypeRecordStart,
		detail:   cameraDetail(cam),
		advanced: fmt.Sprintf("type=%s reason=%s", t, ReasonNone),
		state:    eventlog.StateStart,
	}
}

func stopEvent(cam int, t RecordType) pendingEvent {
	return pendingEvent{
		subtype:  eventlog.SubtypeRecordStop,
		detail:   cameraDetail(cam),
		advanced: fmt.Sprintf("type=%s", t),
		state:    eventlog.StateStop,
	}
}

func failEvent(cam int, t RecordType, r FailReason) pendingEvent {
	return pendingEvent{
		subtype:  eventlog.SubtypeRecordFail,
		detail:   cameraDetail(cam),
		advanced: fmt.Sprintf("type=%s reason=%s", t, r),
		state:    eventlog.StateFail,
	}
}

func single(t RecordType) bool {
	return t.index() >= 0
}

// StartRecord adds a record type to a camera's session. Repeating an
// active type is a no-op, except that every Alarm start takes a reference.
func (m *Manager) StartRecord(cam int, t RecordType, user string) error {
	if !single(t) {
		return fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	m.mu.Lock()
	if m.terminate {
		m.mu.Unlock()
		return ErrStopped
	}
	s, err := m.sessionLocked(cam)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	s.mu.Lock()
	switch t {
	case Alarm:
		m.cancelStopLocked(s, Alarm)
		if s.alarmRefs < maxAlarmRefs {
			s.alarmRefs++
		}
	case Cosec:
		m.armCosecLocked(s)
	}
	already := s.types&t != 0
	s.types |= t
	if user != "" {
		s.users[t] = user
	}
	s.mu.Unlock()

	var evs []pendingEvent
	if !already {
		switch s.state {
		case StateOff:
			s.requestedAt = m.opts.Now()
			m.setStateLocked(s, StateOnWait)
			m.flagLocked(s)
		case StateOffWait:
			m.flagLocked(s)
		case StateOnWait:
		default:
			evs = append(evs, startEvent(cam, t))
		}
	}
	m.mu.Unlock()

	if !already {
		m.logger.Info().
			Str(xglog.FieldEvent, "recorder.start").
			Int(xglog.FieldCamera, cam).
			Str(xglog.FieldRecordType, t.String()).
			Str("user", user).
			Msg("record type started")
	}
	m.emit(cam, evs)
	return nil
}

// StopRecord removes a record type. A non-forced Alarm stop releases one
// reference; the last one stops after the post-alarm delay.
func (m *Manager) StopRecord(cam int, t RecordType, force bool) error {
	if !single(t) {
		return fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	m.mu.Lock()
	s, err := m.sessionLocked(cam)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	s.mu.Lock()
	if s.types&t == 0 {
		s.mu.Unlock()
		m.mu.Unlock()
		return nil
	}
	if t == Alarm && !force {
		if s.alarmRefs > 1 {
			s.alarmRefs--
			s.mu.Unlock()
			m.mu.Unlock()
			return nil
		}
		if m.armAlarmStopLocked(s) {
			s.alarmRefs = 0
			s.mu.Unlock()
			m.mu.Unlock()
			return nil
		}
	}
	evs := m.removeTypeLocked(s, t)
	m.mu.Unlock()

	m.logger.Info().
		Str(xglog.FieldEvent, "recorder.stop").
		Int(xglog.FieldCamera, cam).
		Str(xglog.FieldRecordType, t.String()).
		Bool("force", force).
		Msg("record type stopped")
	m.emit(cam, evs)
	return nil
}

// removeTypeLocked requires Manager.mu and s.mu and releases s.mu.
func (m *Manager) removeTypeLocked(s *session, t RecordType) []pendingEvent {
	s.types &^= t
	delete(s.users, t)
	s.typeFail[t.index()] = ReasonNone
	if t == Alarm {
		s.alarmRefs = 0
	}
	m.cancelStopLocked(s, t)
	empty := s.types == 0
	if empty {
		s.alarmRefs = 0
	}
	s.mu.Unlock()

	if empty && s.state != StateOff {
		m.setStateLocked(s, StateOffWait)
		m.flagLocked(s)
	}
	return []pendingEvent{stopEvent(s.camera, t)}
}

// expire runs when a delayed stop timer fires. h is the timer that fired;
// a timer that was cancelled or replaced while its callback waited for the
// lock is ignored.
func (m *Manager) expire(cam int, t RecordType, h *timer.Handle) {
	m.mu.Lock()
	s, err := m.sessionLocked(cam)
	if err != nil {
		m.mu.Unlock()
		return
	}
	s.mu.Lock()
	if cur, ok := s.stopTimers[t]; !ok || cur != *h {
		s.mu.Unlock()
		m.mu.Unlock()
		return
	}
	delete(s.stopTimers, t)
	if s.types&t == 0 || (t == Alarm && s.alarmRefs > 0) {
		s.mu.Unlock()
		m.mu.Unlock()
		return
	}
	evs := m.removeTypeLocked(s, t)
	m.mu.Unlock()

	m.logger.Info().
		Str(xglog.FieldEvent, "recorder.expire").
		Int(xglog.FieldCamera, cam).
		Str(xglog.FieldRecordType, t.String()).
		Msg("delayed stop elapsed")
	m.emit(cam, evs)
}

// armAlarmStopLocked starts the post-alarm timer. It reports false when the
// stop should happen now.
func (m *Manager) armAlarmStopLocked(s *session) bool {
	delay := m.recording().PostAlarmStop
	if delay <= 0 || m.opts.Timers == nil {
		return false
	}
	m.cancelStopLocked(s, Alarm)
	m.startStopLocked(s, Alarm, m.opts.Timers.Ticks(delay))
	return true
}

// armCosecLocked starts or reloads the cosec auto-stop timer.
func (m *Manager) armCosecLocked(s *session) {
	delay := m.recording().PostCosecStop
	if delay <= 0 || m.opts.Timers == nil {
		return
	}
	ticks := m.opts.Timers.Ticks(delay)
	if h, ok := s.stopTimers[Cosec]; ok && m.opts.Timers.Reload(h, ticks) {
		return
	}
	m.startStopLocked(s, Cosec, ticks)
}

// startStopLocked arms a one-shot stop timer for t. The handle is written
// under m.mu, which expire takes before reading it.
func (m *Manager) startStopLocked(s *session, t RecordType, ticks int) {
	cam := s.camera
	h := new(timer.Handle)
	*h = m.opts.Timers.StartOnce(ticks, func() { m.expire(cam, t, h) })
	s.stopTimers[t] = *h
}

func (m *Manager) cancelStopLocked(s *session, t RecordType) {
	if h, ok := s.stopTimers[t]; ok {
		if m.opts.Timers != nil {
			m.opts.Timers.Cancel(h)
		}
		delete(s.stopTimers, t)
	}
}

func (m *Manager) pushSignal(cam int, sig signal, stream string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(cam)
	if err != nil || m.terminate {
		return
	}
	if stream != "" && (stream != s.stream || !s.streamWanted) {
		m.logger.Debug().Int(xglog.FieldCamera, cam).Str(xglog.FieldStream, stream).Msg("ignoring callback for stale stream")
		return
	}
	s.signals = append(s.signals, sig)
	m.flagLocked(s)
}

// OnStreamStarted implements camera.Listener.
func (m *Manager) OnStreamStarted(cam int, stream string) {
	m.pushSignal(cam, sigStarted, stream)
}

// OnStreamFailed implements camera.Listener.
func (m *Manager) OnStreamFailed(cam int, stream string, rejected bool) {
	if rejected {
		m.pushSignal(cam, sigRejected, stream)
		return
	}
	m.pushSignal(cam, sigStartFailed, stream)
}

// OnStreamRetry implements camera.Listener.
func (m *Manager) OnStreamRetry(cam int, stream string) {
	m.pushSignal(cam, sigRetry, stream)
}

// OnStreamClosed implements camera.Listener.
func (m *Manager) OnStreamClosed(cam int, stream string) {
	m.pushSignal(cam, sigClosed, stream)
}

// OnMediaAvailable implements camera.Listener.
func (m *Manager) OnMediaAvailable(cam int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, err := m.sessionLocked(cam); err == nil && s.state == StateOn {
		m.flagLocked(s)
	}
}

func (m *Manager) eachLocked(cams []int, fn func(*session)) {
	for _, cam := range cams {
		if s, err := m.sessionLocked(cam); err == nil {
			fn(s)
		}
	}
}

// ForceRestart closes and reopens the recordings of the cameras.
func (m *Manager) ForceRestart(cams []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eachLocked(cams, func(s *session) {
		if s.state != StateOff {
			s.requests |= reqRestart
			m.flagLocked(s)
		}
	})
}

// Interrupt parks the recordings of the cameras until Resume.
func (m *Manager) Interrupt(cams []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eachLocked(cams, func(s *session) {
		s.interrupted = true
		m.flagLocked(s)
	})
}

// Resume lifts Interrupt.
func (m *Manager) Resume(cams []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eachLocked(cams, func(s *session) {
		if s.interrupted {
			s.interrupted = false
			m.flagLocked(s)
		}
	})
}

// SwitchDrive moves the cameras' open recordings to their current target.
func (m *Manager) SwitchDrive(cams []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eachLocked(cams, func(s *session) {
		if s.state != StateOff {
			s.requests |= reqSwitchDrive
			m.flagLocked(s)
		}
	})
}

// SwitchStream changes the recorded stream of a camera.
func (m *Manager) SwitchStream(cam int, stream string) error {
	if stream != config.StreamMain && stream != config.StreamSub {
		return fmt.Errorf("unknown stream %q", stream)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(cam)
	if err != nil {
		return err
	}
	if s.state == StateOff {
		s.stream = stream
		s.nextStream = ""
		return nil
	}
	if stream == s.stream && s.nextStream == "" {
		return nil
	}
	s.nextStream = stream
	s.requests |= reqSwitchStream
	m.flagLocked(s)
	return nil
}

// Suspend interrupts every recording session writing to drive, or to any
// drive for AllDrives. It reports whether any session was suspended.
func (m *Manager) Suspend(d volume.Drive) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	suspended := false
	for _, s := range m.sessions {
		if s == nil || s.state == StateOff || s.interrupted {
			continue
		}
		if !m.onDrive(s.camera, d) {
			continue
		}
		s.interrupted = true
		m.flagLocked(s)
		suspended = true
	}
	return suspended
}

// ResumeSuspended resumes the sessions interrupted for drive.
func (m *Manager) ResumeSuspended(d volume.Drive) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s == nil || !s.interrupted || !m.onDrive(s.camera, d) {
			continue
		}
		s.interrupted = false
		m.flagLocked(s)
	}
}

func (m *Manager) onDrive(cam int, d volume.Drive) bool {
	if d == volume.AllDrives {
		return true
	}
	tgt, err := m.opts.Targets.Resolve(cam)
	return err == nil && tgt.Drive == d
}

// Recording reports whether any session targeting drive is past Off.
func (m *Manager) Recording(d volume.Drive) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s != nil && s.state != StateOff && m.onDrive(s.camera, d) {
			return true
		}
	}
	return false
}

// ApplyConfig installs new recording timings and switches cameras whose
// configured stream changed.
func (m *Manager) ApplyConfig(rc config.RecordingConfig) {
	m.recMu.Lock()
	m.rec = rc
	m.recMu.Unlock()

	for cam := 1; cam < len(m.sessions); cam++ {
		want := m.recordConfig(cam).Stream
		m.mu.Lock()
		cur := m.sessions[cam].stream
		m.mu.Unlock()
		if want != cur {
			if err := m.SwitchStream(cam, want); err != nil {
				m.logger.Warn().Err(err).Int(xglog.FieldCamera, cam).Msg("stream switch rejected")
			}
		}
	}
}

// Session returns the state of one camera.
func (m *Manager) Session(cam int) (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(cam)
	if err != nil {
		return SessionInfo{}, err
	}
	return s.infoLocked(), nil
}

// Sessions returns the state of every camera.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions)-1)
	for _, s := range m.sessions[1:] {
		out = append(out, s.infoLocked())
	}
	return out
}

// Stop ends Run.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.terminate = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/metrics"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
)

// ErrAlreadyRunning is returned by a second concurrent Run.
var ErrAlreadyRunning = errors.New("recorder already running")

// Run dispatches session work until ctx is done or Stop is called. On exit
// every session is returned to Off.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	stop := context.AfterFunc(ctx, m.Stop)
	defer stop()

	m.logger.Info().Str(xglog.FieldEvent, "recorder.run").Int("cameras", len(m.sessions)-1).Msg("recorder dispatcher started")
	for {
		batch, ok := m.wait()
		if !ok {
			break
		}
		for _, s := range batch {
			m.process(s)
		}
	}
	m.shutdown()
	m.logger.Info().Str(xglog.FieldEvent, "recorder.stopped").Msg("recorder dispatcher stopped")
	return nil
}

// wait blocks until sessions need work and takes them in round-robin order.
func (m *Manager) wait() ([]*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.pending == 0 && !m.terminate {
		m.cond.Wait()
	}
	if m.terminate {
		return nil, false
	}
	n := len(m.sessions) - 1
	batch := make([]*session, 0, m.pending)
	for i := 0; i < n && m.pending > 0; i++ {
		cam := (m.next+i)%n + 1
		s := m.sessions[cam]
		if s.needsWork {
			s.needsWork = false
			m.pending--
			batch = append(batch, s)
		}
	}
	if len(batch) > 0 {
		m.next = batch[len(batch)-1].camera % n
	}
	return batch, true
}

// storageReason reports why the camera's target refuses writes.
func (m *Manager) storageReason(cam int) (FailReason, volume.Target) {
	tgt, err := m.opts.Targets.Resolve(cam)
	if err != nil {
		return ReasonDiskFault, tgt
	}
	h := m.opts.Health
	switch h.DriveAction(tgt.Drive) {
	case volume.ActionNormal:
	case volume.ActionIoError:
		return ReasonDiskFault, tgt
	default:
		return ReasonMediaBusy, tgt
	}
	switch h.Health(tgt.Volume) {
	case volume.HealthFull:
		return ReasonDiskFull, tgt
	case volume.HealthError:
		return ReasonDiskFault, tgt
	case volume.HealthNoDisk:
		switch tgt.Drive {
		case volume.DriveNAS1:
			return ReasonNAS1Disconnect, tgt
		case volume.DriveNAS2:
			return ReasonNAS2Disconnect, tgt
		}
		return ReasonDiskFault, tgt
	}
	if h.Status(tgt.Volume) == volume.StatusFull {
		return ReasonDiskFull, tgt
	}
	return ReasonNone, tgt
}

type execState struct {
	cam         int
	types       RecordType
	target      volume.Target
	stream      string
	requestedAt time.Time
	work        bool
	events      []pendingEvent
}

// process applies one transition to s and runs its effects outside the lock.
func (m *Manager) process(s *session) {
	m.mu.Lock()
	if m.terminate {
		m.mu.Unlock()
		return
	}
	reason, tgt := m.storageReason(s.camera)
	v := view{
		state:       s.state,
		requests:    s.requests,
		interrupted: s.interrupted,
		hold:        s.hold,
		storage:     reason,
		streamOn:    s.streamOn,
		writerOpen:  s.writerOpen,
	}
	if len(s.signals) > 0 {
		v.signal = s.signals[0]
		s.signals = s.signals[1:]
	}
	s.mu.Lock()
	v.types = s.types
	v.failReason = s.failReason
	s.mu.Unlock()

	p := step(v)
	s.requests = p.keep | (s.requests &^ v.requests)
	m.setStateLocked(s, p.next)

	s.mu.Lock()
	if p.resetTypes {
		for t := range s.stopTimers {
			m.cancelStopLocked(s, t)
		}
		s.types = 0
		s.alarmRefs = 0
		clear(s.users)
	}
	if p.setReason {
		s.failReason = p.reason
		for i, rt := range RecordTypes {
			if v.types&rt != 0 {
				s.typeFail[i] = p.reason
			}
		}
	}
	s.mu.Unlock()

	x := execState{
		cam:         s.camera,
		types:       v.types,
		target:      tgt,
		stream:      s.stream,
		requestedAt: s.requestedAt,
		work:        p.work || len(s.signals) > 0,
	}
	m.mu.Unlock()

	for _, e := range p.effects {
		m.execute(s, e, &x)
	}
	m.emit(s.camera, x.events)

	if x.work {
		m.mu.Lock()
		if !m.terminate {
			m.flagLocked(s)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) execute(s *session, e effect, x *execState) {
	log := m.logger.With().Int(xglog.FieldCamera, x.cam).Logger()
	switch e.kind {
	case effStartStream:
		purpose := purposeFor(x.types)
		m.setStreamWanted(s, true)
		if err := m.opts.Camera.StartStream(x.cam, x.stream, purpose); err != nil {
			log.Warn().Err(err).Str(xglog.FieldStream, x.stream).Msg("stream start failed")
			m.setStreamWanted(s, false)
			m.pushSignal(x.cam, sigStartFailed, "")
			return
		}
		s.streamOn = true
		s.purpose = purpose

	case effStopStream:
		if s.streamOn {
			m.setStreamWanted(s, false)
			m.opts.Camera.StopStream(x.cam, x.stream, s.purpose)
			s.streamOn = false
		}

	case effSelectStream:
		m.mu.Lock()
		if s.nextStream != "" {
			s.stream = s.nextStream
			s.nextStream = ""
		}
		x.stream = s.stream
		m.mu.Unlock()

	case effOpenWriter:
		if err := m.opts.Writer.Open(x.cam, x.target, x.stream); err != nil {
			log.Error().Err(err).Str(xglog.FieldMountPoint, x.target.MountPoint).Msg("open recording failed")
			m.ioFailure(s, x)
			m.pushSignal(x.cam, sigOpenFailed, "")
			return
		}
		s.writerOpen = true
		s.awaitKey = true
		s.target = x.target

	case effCloseWriter:
		if !s.writerOpen {
			return
		}
		if err := m.opts.Writer.Close(x.cam); err != nil {
			log.Warn().Err(err).Msg("close recording failed")
		}
		s.writerOpen = false

	case effWriteFrames:
		remaining, err := m.writeFrames(s, x)
		if err != nil {
			log.Error().Err(err).Msg("write failed")
			m.ioFailure(s, x)
			m.pushSignal(x.cam, sigWriteFailed, "")
			return
		}
		if remaining > 0 {
			x.work = true
		}

	case effEmitStart:
		for _, rt := range RecordTypes {
			if x.types&rt != 0 {
				x.events = append(x.events, startEvent(x.cam, rt))
			}
		}

	case effEmitFail:
		metrics.RecordFailure(e.reason.String())
		log.Warn().Str(xglog.FieldEvent, "recorder.fail").Str(xglog.FieldReason, e.reason.String()).Msg("recording failed")
		for _, rt := range RecordTypes {
			if x.types&rt != 0 {
				x.events = append(x.events, failEvent(x.cam, rt, e.reason))
			}
		}

	case effEmitStreamSwitch:
		x.events = append(x.events, pendingEvent{
			subtype:  eventlog.SubtypeStreamSwitched,
			detail:   cameraDetail(x.cam),
			advanced: "stream=" + x.stream,
			state:    eventlog.StateDone,
		})

	case effBackoff:
		m.mu.Lock()
		s.hold = true
		m.mu.Unlock()
		cam := x.cam
		if m.opts.Timers != nil {
			m.opts.Timers.StartOnce(m.opts.Timers.Ticks(m.opts.RetryDelay), func() { m.release(cam) })
		} else {
			time.AfterFunc(m.opts.RetryDelay, func() { m.release(cam) })
		}
	}
}

func (m *Manager) setStreamWanted(s *session, on bool) {
	m.mu.Lock()
	s.streamWanted = on
	m.mu.Unlock()
}

// release ends an I/O backoff.
func (m *Manager) release(cam int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(cam)
	if err != nil || m.terminate {
		return
	}
	s.hold = false
	m.flagLocked(s)
}

// ioFailure counts consecutive write-path errors and marks the drive once
// the limit is reached.
func (m *Manager) ioFailure(s *session, x *execState) {
	metrics.RecordWriteError()
	s.ioFailures++
	if s.ioFailures < m.opts.MaxIOFailures {
		return
	}
	s.ioFailures = 0
	m.opts.Health.SetDriveAction(x.target.Drive, volume.ActionIoError)
	m.logger.Error().
		Str(xglog.FieldEvent, "recorder.io_error").
		Int(xglog.FieldCamera, x.cam).
		Str(xglog.FieldDrive, x.target.Drive.String()).
		Msg("repeated write failures, drive marked faulty")
	m.opts.Events.Emit(context.Background(), eventlog.CategoryStorage, eventlog.SubtypeDiskFault,
		x.target.Drive.String(), "cause=io_error", eventlog.StateActive)
}

// writeFrames drains buffered frames into the open recording.
func (m *Manager) writeFrames(s *session, x *execState) (int, error) {
	if !s.writerOpen {
		return 0, nil
	}
	frames, remaining := m.opts.Camera.Drain(x.cam, m.opts.FramesPerPass)
	if len(frames) == 0 {
		return remaining, nil
	}
	rc := m.recordConfig(x.cam)
	adaptive := rc.Adaptive && x.types&^Schedule == 0
	written := 0
	for _, f := range frames {
		if f.Stream != "" && f.Stream != x.stream {
			metrics.RecordFrameSkipped("stream")
			continue
		}
		if !rc.PreRecord && f.Time.Before(x.requestedAt) {
			metrics.RecordFrameSkipped("pre_record")
			continue
		}
		if s.awaitKey {
			if !f.KeyFrame {
				metrics.RecordFrameSkipped("await_key")
				continue
			}
			s.awaitKey = false
		}
		if adaptive && !f.KeyFrame {
			metrics.RecordFrameSkipped("adaptive")
			continue
		}
		if err := m.opts.Writer.Write(x.cam, f); err != nil {
			metrics.AddFramesWritten(written)
			return remaining, err
		}
		written++
	}
	metrics.AddFramesWritten(written)
	if written > 0 {
		s.ioFailures = 0
		if m.opts.Monitor != nil {
			m.opts.Monitor.Notify(x.cam)
		}
	}
	return remaining, nil
}

// shutdown closes every writer and stream and resets all sessions to Off.
func (m *Manager) shutdown() {
	for _, s := range m.sessions[1:] {
		if s.writerOpen {
			if err := m.opts.Writer.Close(s.camera); err != nil {
				m.logger.Warn().Err(err).Int(xglog.FieldCamera, s.camera).Msg("close recording failed")
			}
			s.writerOpen = false
		}
		if s.streamOn {
			m.mu.Lock()
			stream := s.stream
			m.mu.Unlock()
			m.opts.Camera.StopStream(s.camera, stream, s.purpose)
			s.streamOn = false
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions[1:] {
		m.setStateLocked(s, StateOff)
		s.signals = nil
		s.streamWanted = false
		s.requests = 0
		s.interrupted = false
		s.hold = false
		s.needsWork = false
		s.mu.Lock()
		for t := range s.stopTimers {
			m.cancelStopLocked(s, t)
		}
		s.types = 0
		s.alarmRefs = 0
		clear(s.users)
		s.mu.Unlock()
	}
	m.pending = 0
}

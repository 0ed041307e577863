// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"sync"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/camera"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/timer"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
)

// maxAlarmRefs caps the alarm reference count.
const maxAlarmRefs = 255

// session is the per-camera recording state.
type session struct {
	camera int

	// Guarded by Manager.mu.
	state       State
	needsWork   bool
	signals     []signal
	requests    request
	interrupted bool
	hold        bool
	nextStream  string
	stream      string
	requestedAt time.Time
	// streamWanted is set from the start request until the stream is
	// stopped. Camera callbacks outside that window are dropped.
	streamWanted bool

	// Owned by the dispatch goroutine.
	streamOn   bool
	purpose    camera.Purpose
	writerOpen bool
	awaitKey   bool
	target     volume.Target
	ioFailures int

	// mu guards the type bookkeeping. Lock order is Manager.mu then mu.
	mu         sync.Mutex
	types      RecordType
	alarmRefs  int
	users      map[RecordType]string
	failReason FailReason
	typeFail   [4]FailReason
	stopTimers map[RecordType]timer.Handle
}

func newSession(cam int, stream string) *session {
	return &session{
		camera:     cam,
		stream:     stream,
		users:      make(map[RecordType]string),
		stopTimers: make(map[RecordType]timer.Handle),
	}
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	Camera      int               `json:"camera"`
	State       string            `json:"state"`
	Types       []string          `json:"types"`
	AlarmRefs   int               `json:"alarmRefs"`
	FailReason  string            `json:"failReason"`
	Stream      string            `json:"stream"`
	Users       map[string]string `json:"users,omitempty"`
	TypeHealth  map[string]string `json:"typeHealth,omitempty"`
	Interrupted bool              `json:"interrupted"`
}

// infoLocked requires Manager.mu.
func (s *session) infoLocked() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		Camera:      s.camera,
		State:       s.state.String(),
		Types:       []string{},
		AlarmRefs:   s.alarmRefs,
		FailReason:  s.failReason.String(),
		Stream:      s.stream,
		Interrupted: s.interrupted,
	}
	for _, rt := range RecordTypes {
		if s.types&rt != 0 {
			info.Types = append(info.Types, rt.String())
		}
	}
	for i, r := range s.typeFail {
		if s.types&RecordTypes[i] != 0 && r != ReasonNone {
			if info.TypeHealth == nil {
				info.TypeHealth = make(map[string]string)
			}
			info.TypeHealth[RecordTypes[i].String()] = r.String()
		}
	}
	if len(s.users) > 0 {
		info.Users = make(map[string]string, len(s.users))
		for rt, u := range s.users {
			info.Users[rt.String()] = u
		}
	}
	return info
}

// purposeFor picks the stream purpose for a type mask.
func purposeFor(types RecordType) camera.Purpose {
	switch types {
	case Alarm:
		return camera.PurposePreAlarm
	case Cosec:
		return camera.PurposePreCosec
	}
	return camera.PurposeRecord
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package eventlog carries user-visible storage and recording events to the
// configured sinks: structured log, persistent journal and redis fan-out.
package eventlog

import (
	"context"
	"sync"
	"time"

	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/rs/zerolog"
)

// Category groups events.
type Category string

const (
	CategoryStorage   Category = "storage"
	CategoryRecording Category = "recording"
	CategoryBackup    Category = "backup"
	CategorySystem    Category = "system"
)

// Subtype values.
const (
	SubtypeDiskFull       = "disk_full"
	SubtypeDiskNormal     = "disk_normal"
	SubtypeLowMemory      = "low_memory"
	SubtypeDiskFault      = "disk_fault"
	SubtypeVolumeSwitch   = "volume_switch"
	SubtypeCleanup        = "cleanup"
	SubtypeRetention      = "retention"
	SubtypeFormat         = "format"
	SubtypeRecovery       = "recovery"
	SubtypeDisconnect     = "disconnect"
	SubtypeConfigChange   = "config_change"
	SubtypeRecordStart    = "record_start"
	SubtypeRecordStop     = "record_stop"
	SubtypeRecordFail     = "record_fail"
	SubtypeNASCooldown    = "nas_cooldown"
	SubtypeBackupCleanup  = "backup_cleanup"
	SubtypeIndexRebuild   = "index_rebuild"
	SubtypeStreamSwitched = "stream_switch"
)

// State is the condition an event reports.
type State string

const (
	StateStart  State = "start"
	StateStop   State = "stop"
	StateActive State = "active"
	StateNormal State = "normal"
	StateFail   State = "fail"
	StateDone   State = "done"
)

// Event is one structured event write.
type Event struct {
	Time           time.Time `json:"time"`
	Category       Category  `json:"category"`
	Subtype        string    `json:"subtype"`
	Detail         string    `json:"detail,omitempty"`
	AdvancedDetail string    `json:"advanced_detail,omitempty"`
	State          State     `json:"state"`
}

// Sink accepts events. Write must not block for long.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Emitter stamps events and hands them to a sink, logging sink failures.
// A nil sink drops events.
type Emitter struct {
	sink   Sink
	now    func() time.Time
	logger zerolog.Logger
}

// NewEmitter wraps sink.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink, now: time.Now, logger: xglog.WithComponent("eventlog")}
}

// Emit writes one event.
func (e *Emitter) Emit(ctx context.Context, cat Category, subtype, detail, advanced string, state State) {
	if e == nil || e.sink == nil {
		return
	}
	ev := Event{Time: e.now(), Category: cat, Subtype: subtype, Detail: detail, AdvancedDetail: advanced, State: state}
	if err := e.sink.Write(ctx, ev); err != nil {
		e.logger.Warn().Err(err).Str(xglog.FieldEvent, "eventlog.write_failed").Str("subtype", subtype).Msg("event sink write failed")
	}
}

// Multi fans an event out to several sinks; every sink is attempted.
type Multi []Sink

// Write implements Sink and returns the first error.
func (m Multi) Write(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log sink on the events component logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: xglog.WithComponent("events")}
}

// Write implements Sink.
func (l *LogSink) Write(_ context.Context, e Event) error {
	ev := l.logger.Info()
	if e.State == StateFail {
		ev = l.logger.Warn()
	}
	ev.Str(xglog.FieldEvent, string(e.Category)+"."+e.Subtype).
		Str("state", string(e.State)).
		Str("detail", e.Detail).
		Str("advanced_detail", e.AdvancedDetail).
		Time("at", e.Time).
		Msg("event")
	return nil
}

// Memory records events in order; for tests and the status API.
type Memory struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewMemory keeps at most limit events (0 for unbounded).
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

// Write implements Sink.
func (m *Memory) Write(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Find returns recorded events matching subtype and state.
func (m *Memory) Find(subtype string, state State) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Subtype == subtype && e.State == state {
			out = append(out, e)
		}
	}
	return out
}

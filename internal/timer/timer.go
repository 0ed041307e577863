// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package timer provides tick-counted one-shot and periodic timers driven by
// a single ticker goroutine.
package timer

import (
	"context"
	"sort"
	"sync"
	"time"

	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
)

// DefaultTick is the facility resolution.
const DefaultTick = 100 * time.Millisecond

// Handle identifies a started timer. The zero handle is never issued.
type Handle uint64

type entry struct {
	remaining int
	period    int
	periodic  bool
	fn        func()
}

// Facility counts down timers in whole ticks. Callbacks run on the ticking
// goroutine, outside the facility lock, and must not block for long.
type Facility struct {
	tick time.Duration

	mu     sync.Mutex
	next   Handle
	timers map[Handle]*entry
}

// New creates a facility with the given tick length.
func New(tick time.Duration) *Facility {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Facility{tick: tick, timers: make(map[Handle]*entry)}
}

// Ticks converts a duration into a tick count, rounding up, at least one.
func (f *Facility) Ticks(d time.Duration) int {
	n := int((d + f.tick - 1) / f.tick)
	if n < 1 {
		n = 1
	}
	return n
}

// StartOnce fires fn once after ticks ticks.
func (f *Facility) StartOnce(ticks int, fn func()) Handle {
	return f.start(ticks, false, fn)
}

// StartPeriodic fires fn every ticks ticks until cancelled.
func (f *Facility) StartPeriodic(ticks int, fn func()) Handle {
	return f.start(ticks, true, fn)
}

func (f *Facility) start(ticks int, periodic bool, fn func()) Handle {
	if ticks < 1 {
		ticks = 1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	h := f.next
	f.timers[h] = &entry{remaining: ticks, period: ticks, periodic: periodic, fn: fn}
	return h
}

// Reload restarts the countdown of h with a new tick count. It returns false
// if h already fired or was cancelled.
func (f *Facility) Reload(h Handle, ticks int) bool {
	if ticks < 1 {
		ticks = 1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.timers[h]
	if !ok {
		return false
	}
	e.remaining = ticks
	e.period = ticks
	return true
}

// Cancel stops h. It returns false if h was not active.
func (f *Facility) Cancel(h Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.timers[h]; !ok {
		return false
	}
	delete(f.timers, h)
	return true
}

// Active reports whether h is still pending.
func (f *Facility) Active(h Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.timers[h]
	return ok
}

// Tick advances every timer by one tick and runs the ones that expire,
// in handle order.
func (f *Facility) Tick() {
	f.mu.Lock()
	var due []Handle
	fns := make(map[Handle]func())
	for h, e := range f.timers {
		e.remaining--
		if e.remaining > 0 {
			continue
		}
		due = append(due, h)
		fns[h] = e.fn
		if e.periodic {
			e.remaining = e.period
		} else {
			delete(f.timers, h)
		}
	}
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	for _, h := range due {
		fns[h]()
	}
}

// Advance runs n ticks synchronously.
func (f *Facility) Advance(n int) {
	for i := 0; i < n; i++ {
		f.Tick()
	}
}

// Run ticks until ctx is done.
func (f *Facility) Run(ctx context.Context) error {
	logger := xglog.WithComponent("timer")
	logger.Debug().Dur("tick", f.tick).Msg("timer facility started")

	t := time.NewTicker(f.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("timer facility stopped")
			return nil
		case <-t.C:
			f.Tick()
		}
	}
}

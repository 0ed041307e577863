// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultStopTimeout bounds StopAndWait when no timeout is given.
const DefaultStopTimeout = 30 * time.Second

// Func is the body of a slot job. It must return promptly once ctx is done.
type Func func(ctx context.Context) error

// Status is a point-in-time view of a slot.
type Status struct {
	Kind    string    `json:"kind"`
	Running bool      `json:"running"`
	JobID   string    `json:"job_id,omitempty"`
	Started time.Time `json:"started,omitempty"`
	LastErr string    `json:"last_error,omitempty"`
}

// Slot admits at most one running job of its kind.
type Slot struct {
	kind   string
	pool   *Pool
	sem    *semaphore.Weighted
	logger zerolog.Logger

	mu      sync.Mutex
	jobID   string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewSlot creates a named slot whose jobs run on pool.
func NewSlot(kind string, pool *Pool) *Slot {
	return &Slot{
		kind:   kind,
		pool:   pool,
		sem:    semaphore.NewWeighted(1),
		logger: xglog.WithComponent("jobs").With().Str(xglog.FieldJobKind, kind).Logger(),
	}
}

// Kind returns the slot name.
func (s *Slot) Kind() string { return s.kind }

// TryStart starts fn if the slot is free. It returns ErrBusy when a job is
// already running and ErrProcess when no worker was available; in both cases
// the slot is left as it was.
func (s *Slot) TryStart(fn Func) (string, error) {
	return s.tryStart(fn, nil)
}

// TryStartThen is TryStart with a follow-up: then runs once the slot and
// its pool worker are released, so it may start the same kind again. It
// gets the pool context and is skipped when the job never started.
func (s *Slot) TryStartThen(fn Func, then func(ctx context.Context)) (string, error) {
	return s.tryStart(fn, then)
}

func (s *Slot) tryStart(fn Func, then func(ctx context.Context)) (string, error) {
	if !s.sem.TryAcquire(1) {
		metrics.RecordJobBusy(s.kind)
		s.logger.Debug().Str(xglog.FieldEvent, "jobs.slot_busy").Msg("job already running")
		return "", ErrBusy
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(xglog.ContextWithJobID(s.pool.Context(), id))
	done := make(chan struct{})

	s.mu.Lock()
	s.jobID = id
	s.started = time.Now()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	var follow func(context.Context)
	if then != nil {
		follow = func(pctx context.Context) { then(xglog.ContextWithJobID(pctx, id)) }
	}
	err := s.pool.goThen(s.kind, func(context.Context) {
		s.run(ctx, id, fn, done)
		cancel()
	}, follow)
	if err != nil {
		cancel()
		s.mu.Lock()
		s.jobID = ""
		s.cancel = nil
		s.done = nil
		s.mu.Unlock()
		close(done)
		s.sem.Release(1)
		if errors.Is(err, ErrClosed) {
			return "", err
		}
		return "", ErrProcess
	}
	return id, nil
}

func (s *Slot) run(ctx context.Context, id string, fn Func, done chan struct{}) {
	logger := s.logger.With().Str(xglog.FieldJobID, id).Logger()
	start := time.Now()
	metrics.RecordJobStarted(s.kind)
	logger.Info().Str(xglog.FieldEvent, "jobs.started").Msg("job started")

	err := fn(ctx)

	metrics.RecordJobFinished(s.kind, time.Since(start).Seconds())
	switch {
	case err == nil:
		logger.Info().Str(xglog.FieldEvent, "jobs.finished").Dur("duration", time.Since(start)).Msg("job finished")
	case errors.Is(err, context.Canceled):
		logger.Info().Str(xglog.FieldEvent, "jobs.cancelled").Msg("job cancelled")
	default:
		logger.Error().Err(err).Str(xglog.FieldEvent, "jobs.failed").Msg("job failed")
	}

	s.mu.Lock()
	s.lastErr = err
	s.jobID = ""
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	// The slot is free before done closes; waiters may restart it at once.
	s.sem.Release(1)
	close(done)
}

// Running reports whether a job is in progress.
func (s *Slot) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Status returns a snapshot of the slot.
func (s *Slot) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Kind: s.kind, Running: s.done != nil, JobID: s.jobID}
	if st.Running {
		st.Started = s.started
	}
	if s.lastErr != nil {
		st.LastErr = s.lastErr.Error()
	}
	return st
}

// Cancel requests cooperative cancellation of the running job, if any.
func (s *Slot) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the running job returns or ctx is done.
func (s *Slot) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAndWait cancels the running job and waits up to timeout for it to exit.
// A job that does not exit in time is logged and left running.
func (s *Slot) StopAndWait(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	s.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		s.logger.Warn().
			Str(xglog.FieldEvent, "jobs.stop_timeout").
			Dur("timeout", timeout).
			Msg("job did not stop in time, moving on")
		return false
	}
	return true
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Pool is a bounded executor. Jobs run on their own goroutine with a context
// derived from the pool's base context.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool running at most size jobs at once.
func NewPool(ctx context.Context, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	pctx, cancel := context.WithCancel(ctx)
	return &Pool{
		ctx:    pctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(size)),
		logger: xglog.WithComponent("jobs"),
	}
}

// Go starts fn without waiting for a free worker. It fails with ErrProcess
// when the pool is exhausted and ErrClosed after Close.
func (p *Pool) Go(kind string, fn func(ctx context.Context)) error {
	return p.goThen(kind, fn, nil)
}

// goThen is Go with a follow-up that runs after the worker permit is
// returned. Close still waits for it.
func (p *Pool) goThen(kind string, fn, then func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if !p.sem.TryAcquire(1) {
		p.mu.Unlock()
		metrics.RecordJobRejected(kind)
		p.logger.Warn().
			Str(xglog.FieldEvent, "jobs.pool_exhausted").
			Str(xglog.FieldJobKind, kind).
			Msg("no free worker for job")
		return fmt.Errorf("%w: %s", ErrProcess, kind)
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		fn(p.ctx)
		p.sem.Release(1)
		if then != nil {
			then(p.ctx)
		}
	}()
	return nil
}

// Context returns the pool's base context.
func (p *Pool) Context() context.Context { return p.ctx }

// Close cancels running jobs and waits up to timeout for them to return.
// It reports whether every job exited in time.
func (p *Pool) Close(timeout time.Duration) bool {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		p.logger.Warn().
			Str(xglog.FieldEvent, "jobs.close_timeout").
			Dur("timeout", timeout).
			Msg("jobs still running after close timeout")
		return false
	}
}

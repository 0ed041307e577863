// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func blockUntilCancelled(started chan<- struct{}) Func {
	return func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestSlot_BusyWhileRunning(t *testing.T) {
	pool := NewPool(context.Background(), 4)
	defer pool.Close(time.Second)
	slot := NewSlot("format", pool)

	started := make(chan struct{})
	id, err := slot.TryStart(blockUntilCancelled(started))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	<-started

	_, err = slot.TryStart(func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, slot.Running())
	assert.Equal(t, id, slot.Status().JobID)

	require.True(t, slot.StopAndWait(time.Second))
	assert.False(t, slot.Running())
}

func TestSlot_RestartImmediatelyAfterCancel(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	defer pool.Close(time.Second)
	slot := NewSlot("cleanup", pool)

	started := make(chan struct{})
	_, err := slot.TryStart(blockUntilCancelled(started))
	require.NoError(t, err)
	<-started

	slot.Cancel()
	require.NoError(t, slot.Wait(context.Background()))

	ran := make(chan struct{})
	_, err = slot.TryStart(func(context.Context) error {
		close(ran)
		return nil
	})
	require.NoError(t, err)
	<-ran
	require.NoError(t, slot.Wait(context.Background()))
}

func TestSlot_RollbackWhenPoolExhausted(t *testing.T) {
	pool := NewPool(context.Background(), 1)
	defer pool.Close(time.Second)

	blocker := NewSlot("recovery", pool)
	started := make(chan struct{})
	_, err := blocker.TryStart(blockUntilCancelled(started))
	require.NoError(t, err)
	<-started

	slot := NewSlot("format", pool)
	_, err = slot.TryStart(func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrProcess)
	assert.False(t, slot.Running(), "slot must be rolled back")

	blocker.StopAndWait(time.Second)

	// the pool worker returns its permit just after the job signals done
	done := make(chan struct{})
	require.Eventually(t, func() bool {
		_, err = slot.TryStart(func(context.Context) error {
			close(done)
			return nil
		})
		return err == nil
	}, time.Second, 5*time.Millisecond, "retry after rollback is accepted")
	<-done
	require.NoError(t, slot.Wait(context.Background()))
}

func TestSlot_FollowUpRunsAfterRelease(t *testing.T) {
	pool := NewPool(context.Background(), 1)
	defer pool.Close(time.Second)
	slot := NewSlot("cleanup", pool)

	restarted := make(chan error, 1)
	_, err := slot.TryStartThen(func(context.Context) error { return nil }, func(ctx context.Context) {
		assert.NoError(t, ctx.Err())
		_, err := slot.TryStart(func(context.Context) error { return nil })
		restarted <- err
	})
	require.NoError(t, err)

	select {
	case err := <-restarted:
		assert.NoError(t, err, "slot and worker are free when the follow-up runs")
	case <-time.After(time.Second):
		t.Fatal("follow-up not called")
	}
	require.Eventually(t, func() bool { return !slot.Running() }, time.Second, 5*time.Millisecond)
}

func TestSlot_StopAndWaitTimesOut(t *testing.T) {
	pool := NewPool(context.Background(), 1)
	slot := NewSlot("backup", pool)

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := slot.TryStart(func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	assert.False(t, slot.StopAndWait(20*time.Millisecond))
	assert.True(t, slot.Running())

	close(release)
	require.NoError(t, slot.Wait(context.Background()))
	assert.True(t, pool.Close(time.Second))
}

func TestSlot_RecordsLastError(t *testing.T) {
	pool := NewPool(context.Background(), 1)
	defer pool.Close(time.Second)
	slot := NewSlot("format", pool)

	_, err := slot.TryStart(func(context.Context) error { return errors.New("mkfs failed") })
	require.NoError(t, err)
	require.NoError(t, slot.Wait(context.Background()))
	assert.Equal(t, "mkfs failed", slot.Status().LastErr)
}

func TestPool_CloseRejectsAndCancels(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	var exited atomic.Bool
	started := make(chan struct{})
	require.NoError(t, pool.Go("x", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		exited.Store(true)
	}))
	<-started

	assert.True(t, pool.Close(time.Second))
	assert.True(t, exited.Load())
	assert.ErrorIs(t, pool.Go("x", func(context.Context) {}), ErrClosed)
}

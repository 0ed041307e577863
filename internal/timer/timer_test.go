// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestFacility_OneShot(t *testing.T) {
	f := New(time.Second)
	var fired int
	h := f.StartOnce(3, func() { fired++ })

	f.Advance(2)
	assert.Equal(t, 0, fired)
	assert.True(t, f.Active(h))

	f.Advance(1)
	assert.Equal(t, 1, fired)
	assert.False(t, f.Active(h))

	f.Advance(5)
	assert.Equal(t, 1, fired)
}

func TestFacility_Periodic(t *testing.T) {
	f := New(time.Second)
	var fired int
	h := f.StartPeriodic(2, func() { fired++ })
	f.Advance(6)
	assert.Equal(t, 3, fired)

	require.True(t, f.Cancel(h))
	f.Advance(4)
	assert.Equal(t, 3, fired)
	assert.False(t, f.Cancel(h))
}

func TestFacility_ReloadRestartsCountdown(t *testing.T) {
	f := New(time.Second)
	var fired int
	h := f.StartOnce(3, func() { fired++ })

	f.Advance(2)
	require.True(t, f.Reload(h, 3))
	f.Advance(2)
	assert.Equal(t, 0, fired)
	f.Advance(1)
	assert.Equal(t, 1, fired)
	assert.False(t, f.Reload(h, 3))
}

func TestFacility_CallbackMayStartTimers(t *testing.T) {
	f := New(time.Second)
	var second int
	f.StartOnce(1, func() {
		f.StartOnce(1, func() { second++ })
	})
	f.Advance(1)
	assert.Equal(t, 0, second)
	f.Advance(1)
	assert.Equal(t, 1, second)
}

func TestFacility_Ticks(t *testing.T) {
	f := New(100 * time.Millisecond)
	assert.Equal(t, 1, f.Ticks(0))
	assert.Equal(t, 10, f.Ticks(time.Second))
	assert.Equal(t, 11, f.Ticks(1050*time.Millisecond))
}

func TestFacility_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := New(5 * time.Millisecond)
	var fired atomic.Int32
	f.StartPeriodic(1, func() { fired.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return fired.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

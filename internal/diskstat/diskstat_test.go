// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diskstat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGopsutil_TempDir(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u, err := Gopsutil{}.Usage(ctx, t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, u.Total, uint64(0))
	assert.LessOrEqual(t, u.Free, u.Total)
}

func TestGopsutil_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Gopsutil{}.Usage(ctx, t.TempDir())
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := NewStatic()
	s.Set("/media/hdd1", 100, 40)
	s.AddFree("/media/hdd1", 30)

	u, err := s.Usage(context.Background(), "/media/hdd1")
	require.NoError(t, err)
	assert.Equal(t, uint64(70), u.Free)
	assert.Equal(t, uint64(30), u.Used)

	s.AddFree("/media/hdd1", 1000)
	u, _ = s.Usage(context.Background(), "/media/hdd1")
	assert.Equal(t, uint64(100), u.Free)

	_, err = s.Usage(context.Background(), "/missing")
	assert.Error(t, err)
}

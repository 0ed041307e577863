// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	idx, err := Open(context.Background(), filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx.WithLocation(time.UTC)
}

func mkHour(t *testing.T, mount, rel string, size int) {
	t.Helper()
	dir := filepath.Join(mount, rel)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seg.raw"), make([]byte, size), 0o644))
}

func TestRebuildAndRemove(t *testing.T) {
	ctx := context.Background()
	idx := openTest(t)
	mount := t.TempDir()
	mkHour(t, mount, "CAM01/2025-01-01/05", 100)
	mkHour(t, mount, "CAM01/2025-01-01/06", 200)
	mkHour(t, mount, "CAM02/2025-01-01/05", 300)

	unlock := idx.LockDrive(mount)
	n, err := idx.Rebuild(ctx, mount)
	unlock()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := idx.Entries(ctx, mount, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 1, entries[0].Camera)
	assert.Equal(t, 2, entries[1].Camera, "same hour orders by camera")
	assert.Equal(t, uint64(200), entries[2].Bytes)
	assert.Equal(t, 1, entries[2].Files)

	hour := time.Date(2025, 1, 1, 5, 0, 0, 0, time.UTC)
	require.NoError(t, idx.RemoveFolder(ctx, mount, 1, hour, RemoveOverwrite))
	entries, err = idx.Entries(ctx, mount, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	count, err := idx.Removals(ctx, mount, RemoveOverwrite)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = idx.Removals(ctx, mount, RemoveRetention)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRebuildReplacesStaleEntries(t *testing.T) {
	ctx := context.Background()
	idx := openTest(t)
	mount := t.TempDir()
	require.NoError(t, idx.Upsert(ctx, Entry{Mount: mount, Camera: 4, Hour: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Bytes: 1}))

	mkHour(t, mount, "CAM01/2025-01-01/05", 10)
	_, err := idx.Rebuild(ctx, mount)
	require.NoError(t, err)

	entries, err := idx.Entries(ctx, mount, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Camera)
}

func TestLocksSerialise(t *testing.T) {
	var l Locks
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("/media/hdd1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

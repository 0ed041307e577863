// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package layout

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	ts := time.Date(2025, 3, 7, 9, 15, 0, 0, time.UTC)
	assert.Equal(t, "CAM03", CameraDir(3))
	assert.Equal(t, "2025-03-07", DayDir(ts))
	assert.Equal(t, "09", HourDir(ts))
	assert.Equal(t, filepath.Join("/m", "CAM03", "2025-03-07", "09"), HourPath("/m", 3, ts))

	n, ok := ParseCameraDir("CAM12")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	_, ok = ParseCameraDir("CAMX")
	assert.False(t, ok)
	_, ok = ParseHourDir("24")
	assert.False(t, ok)
}

func TestHourFolders_SortedAndFiltered(t *testing.T) {
	root := t.TempDir()
	mk := func(rel string) {
		require.NoError(t, os.MkdirAll(filepath.Join(root, rel), 0o755))
	}
	mk("CAM01/2025-01-02/10")
	mk("CAM01/2025-01-01/23")
	mk("CAM01/2025-01-02/03")
	mk("CAM01/notaday/01")
	mk("CAM01/2025-01-02/xx")

	folders, err := HourFolders(root, 1, time.UTC)
	require.NoError(t, err)
	require.Len(t, folders, 3)
	assert.Equal(t, time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC), folders[0].Time)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC), folders[1].Time)
	assert.Equal(t, time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC), folders[2].Time)

	cams, err := Cameras(root)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, cams)

	none, err := HourFolders(root, 7, time.UTC)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIsSkipped(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, IsSkipped(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, InUseMarker), nil, 0o644))
	assert.True(t, IsSkipped(dir))

	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, ProtectMarker), nil, 0o644))
	assert.False(t, IsSkipped(other), "protect marker must be a directory")
	require.NoError(t, os.Remove(filepath.Join(other, ProtectMarker)))
	require.NoError(t, os.Mkdir(filepath.Join(other, ProtectMarker), 0o755))
	assert.True(t, IsSkipped(other))
}

func TestFolderBefore_TieBreaksOnCamera(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Folder{Camera: 2, Time: ts}
	b := Folder{Camera: 5, Time: ts}
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	c := Folder{Camera: 9, Time: ts.Add(-time.Hour)}
	assert.True(t, c.Before(a))
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package layout encodes the on-disk recording tree:
//
//	<mount>/CAM<NN>/<YYYY-MM-DD>/<HH>/...
//
// Backup trees stop at the day level: <root>/CAM<NN>/<YYYY-MM-DD>/...
package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// InUseMarker is a file inside an hour folder that is still being written.
	InUseMarker = ".inuse"
	// ProtectMarker is a sentinel directory inside an hour or day folder that
	// must never be removed by cleanup.
	ProtectMarker = ".protect"

	cameraPrefix = "CAM"
	dayFormat    = "2006-01-02"
)

// Folder is one recording folder (hour level for recordings, day level for backups).
type Folder struct {
	Root   string
	Camera int
	Time   time.Time
	Path   string
}

// Before orders folders by time, then by camera.
func (f Folder) Before(o Folder) bool {
	if !f.Time.Equal(o.Time) {
		return f.Time.Before(o.Time)
	}
	return f.Camera < o.Camera
}

// CameraDir returns the folder name of a camera (1-based).
func CameraDir(camera int) string {
	return fmt.Sprintf("%s%02d", cameraPrefix, camera)
}

// ParseCameraDir extracts the camera number from a folder name.
func ParseCameraDir(name string) (int, bool) {
	if !strings.HasPrefix(name, cameraPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, cameraPrefix))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// DayDir returns the folder name of the day containing t.
func DayDir(t time.Time) string { return t.Format(dayFormat) }

// ParseDayDir parses a day folder name in loc.
func ParseDayDir(name string, loc *time.Location) (time.Time, bool) {
	t, err := time.ParseInLocation(dayFormat, name, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// HourDir returns the folder name of the hour containing t.
func HourDir(t time.Time) string { return fmt.Sprintf("%02d", t.Hour()) }

// ParseHourDir parses an hour folder name.
func ParseHourDir(name string) (int, bool) {
	if len(name) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(name)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	return h, true
}

// HourPath returns the hour folder of camera at t below mount.
func HourPath(mount string, camera int, t time.Time) string {
	return filepath.Join(mount, CameraDir(camera), DayDir(t), HourDir(t))
}

// DayPath returns the day folder of camera at t below root.
func DayPath(root string, camera int, t time.Time) string {
	return filepath.Join(root, CameraDir(camera), DayDir(t))
}

// IsSkipped reports whether a folder carries a skip marker.
func IsSkipped(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, InUseMarker)); err == nil {
		return true
	}
	if fi, err := os.Stat(filepath.Join(dir, ProtectMarker)); err == nil && fi.IsDir() {
		return true
	}
	return false
}

// Cameras lists the camera folders present below root, ascending.
func Cameras(root string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := ParseCameraDir(e.Name()); ok {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

// Days lists the day folders of camera below root in ascending order.
func Days(root string, camera int, loc *time.Location) ([]Folder, error) {
	camDir := filepath.Join(root, CameraDir(camera))
	entries, err := os.ReadDir(camDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Folder
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, ok := ParseDayDir(e.Name(), loc)
		if !ok {
			continue
		}
		out = append(out, Folder{Root: root, Camera: camera, Time: t, Path: filepath.Join(camDir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// Hours lists the hour folders of one day folder in ascending order.
func Hours(day Folder) ([]Folder, error) {
	entries, err := os.ReadDir(day.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Folder
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		h, ok := ParseHourDir(e.Name())
		if !ok {
			continue
		}
		out = append(out, Folder{
			Root:   day.Root,
			Camera: day.Camera,
			Time:   day.Time.Add(time.Duration(h) * time.Hour),
			Path:   filepath.Join(day.Path, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// HourFolders lists every hour folder of camera below mount, oldest first.
func HourFolders(mount string, camera int, loc *time.Location) ([]Folder, error) {
	days, err := Days(mount, camera, loc)
	if err != nil {
		return nil, err
	}
	var out []Folder
	for _, d := range days {
		hours, err := Hours(d)
		if err != nil {
			return nil, err
		}
		out = append(out, hours...)
	}
	return out, nil
}

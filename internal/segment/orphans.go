// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segment

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/layout"
)

// Orphan is an hour folder left with an in-use marker by an interrupted
// recording.
type Orphan struct {
	Camera int
	Hour   time.Time
	Dir    string
}

// ScanOrphans lists hour folders below mount that still carry the in-use
// marker. skip excludes folders that belong to open segments.
func ScanOrphans(mount string, loc *time.Location, skip func(dir string) bool) ([]Orphan, error) {
	cams, err := layout.Cameras(mount)
	if err != nil {
		return nil, err
	}
	var out []Orphan
	for _, cam := range cams {
		hours, err := layout.HourFolders(mount, cam, loc)
		if err != nil {
			return nil, err
		}
		for _, h := range hours {
			if skip != nil && skip(h.Path) {
				continue
			}
			if _, err := os.Stat(filepath.Join(h.Path, layout.InUseMarker)); err == nil {
				out = append(out, Orphan{Camera: cam, Hour: h.Time, Dir: h.Path})
			}
		}
	}
	return out, nil
}

// Release removes the in-use marker of an orphaned folder.
func Release(o Orphan) error {
	err := os.Remove(filepath.Join(o.Dir, layout.InUseMarker))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

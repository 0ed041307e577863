// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// RepairResult describes one repaired segment file.
type RepairResult struct {
	Path      string
	Records   int
	Truncated int64
}

// Repair truncates path after its last complete record. A segment cut off
// by a crash keeps every frame written before it.
func Repair(path string) (RepairResult, error) {
	res := RepairResult{Path: path}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return res, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return res, err
	}
	cr := &countingReader{r: f}
	rd := NewReader(cr)
	var good int64
	for {
		_, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if !errors.Is(err, ErrCorrupt) {
				return res, err
			}
			break
		}
		res.Records++
		good = cr.consumed(rd)
	}
	if good < fi.Size() {
		if err := f.Truncate(good); err != nil {
			return res, fmt.Errorf("truncate %s: %w", path, err)
		}
		res.Truncated = fi.Size() - good
	}
	return res, nil
}

// RepairDir repairs every segment in dir.
func RepairDir(dir string) ([]RepairResult, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"+Extension))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	out := make([]RepairResult, 0, len(files))
	var errs []error
	for _, p := range files {
		r, err := Repair(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, r)
	}
	return out, errors.Join(errs...)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// consumed is the offset of the record boundary rd has reached.
func (c *countingReader) consumed(rd *Reader) int64 {
	return c.n - int64(rd.r.Buffered())
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package diskstat reports filesystem capacity for recording volumes.
package diskstat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrTimeout is returned when a usage query does not answer in time.
// Disconnected network mounts can block statfs indefinitely.
var ErrTimeout = errors.New("disk usage query timed out")

// Usage is one capacity observation in bytes.
type Usage struct {
	Path  string
	Total uint64
	Free  uint64
	Used  uint64
}

// Stater answers capacity queries for a path.
type Stater interface {
	Usage(ctx context.Context, path string) (Usage, error)
}

// Gopsutil queries the kernel through gopsutil.
type Gopsutil struct{}

// Usage runs the query in a goroutine so a hung mount cannot block the caller
// beyond ctx. The goroutine itself may outlive ctx until the kernel returns.
func (Gopsutil) Usage(ctx context.Context, path string) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{Path: path}, fmt.Errorf("%w: %s", ErrTimeout, path)
	}
	type result struct {
		u   *disk.UsageStat
		err error
	}
	ch := make(chan result, 1)
	go func() {
		u, err := disk.UsageWithContext(ctx, path)
		ch <- result{u: u, err: err}
	}()

	select {
	case <-ctx.Done():
		return Usage{Path: path}, fmt.Errorf("%w: %s", ErrTimeout, path)
	case r := <-ch:
		if r.err != nil {
			return Usage{Path: path}, fmt.Errorf("disk usage %s: %w", path, r.err)
		}
		return Usage{Path: path, Total: r.u.Total, Free: r.u.Free, Used: r.u.Used}, nil
	}
}

// Static is an in-memory Stater for tests and simulations.
type Static struct {
	mu     sync.Mutex
	usages map[string]Usage
	errs   map[string]error
}

// NewStatic creates an empty Static stater.
func NewStatic() *Static {
	return &Static{usages: make(map[string]Usage), errs: make(map[string]error)}
}

// Set records the usage reported for path.
func (s *Static) Set(path string, total, free uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usages[path] = Usage{Path: path, Total: total, Free: free, Used: total - free}
	delete(s.errs, path)
}

// SetError makes queries for path fail with err.
func (s *Static) SetError(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[path] = err
}

// AddFree adjusts the free space of path by delta bytes.
func (s *Static) AddFree(path string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usages[path]
	free := int64(u.Free) + delta
	if free < 0 {
		free = 0
	}
	if uint64(free) > u.Total {
		free = int64(u.Total)
	}
	u.Free = uint64(free)
	u.Used = u.Total - u.Free
	s.usages[path] = u
}

// Usage implements Stater.
func (s *Static) Usage(ctx context.Context, path string) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{Path: path}, fmt.Errorf("%w: %s", ErrTimeout, path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[path]; ok {
		return Usage{Path: path}, err
	}
	u, ok := s.usages[path]
	if !ok {
		return Usage{Path: path}, fmt.Errorf("disk usage %s: no such mount", path)
	}
	return u, nil
}

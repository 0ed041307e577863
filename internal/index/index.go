// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package index keeps the recording index: one row per hour folder, rebuilt
// from disk after format or recovery and pruned by cleanup.
//
// Callers hold LockDrive for the mount while rebuilding or removing entries;
// the index methods themselves do not lock.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/fsutil"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/layout"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/persistence/sqlite"
)

// RemoveMode tells the index why entries are removed.
type RemoveMode int

const (
	// RemoveRetention drops entries aged out by retention-by-day.
	RemoveRetention RemoveMode = iota
	// RemoveOverwrite drops entries reclaimed to free space.
	RemoveOverwrite
)

func (m RemoveMode) String() string {
	if m == RemoveOverwrite {
		return "overwrite"
	}
	return "retention"
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("index closed")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS hour_folders (
		mount      TEXT    NOT NULL,
		camera     INTEGER NOT NULL,
		hour_start INTEGER NOT NULL,
		bytes      INTEGER NOT NULL DEFAULT 0,
		files      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (mount, camera, hour_start)
	)`,
	`CREATE TABLE IF NOT EXISTS removals (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		mount      TEXT    NOT NULL,
		camera     INTEGER NOT NULL,
		hour_start INTEGER NOT NULL,
		mode       TEXT    NOT NULL,
		removed_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS hour_folders_age ON hour_folders (mount, hour_start, camera)`,
}

// Entry is one indexed hour folder.
type Entry struct {
	Mount  string    `json:"mount"`
	Camera int       `json:"camera"`
	Hour   time.Time `json:"hour"`
	Bytes  uint64    `json:"bytes"`
	Files  int       `json:"files"`
}

// Locks hands out one mutex per drive mount point.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *Locks) get(mount string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[mount]
	if !ok {
		m = &sync.Mutex{}
		l.locks[mount] = m
	}
	return m
}

// Lock acquires the lock of mount and returns its release function.
func (l *Locks) Lock(mount string) func() {
	m := l.get(mount)
	m.Lock()
	return m.Unlock
}

// SQLite is the default index backed by an embedded database.
type SQLite struct {
	db    *sql.DB
	locks Locks
	loc   *time.Location
	now   func() time.Time
}

// Open opens (or creates) the index database at path.
func Open(ctx context.Context, path string) (*SQLite, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, loc: time.Local, now: time.Now}, nil
}

// WithLocation sets the zone used to interpret folder names.
func (s *SQLite) WithLocation(loc *time.Location) *SQLite {
	s.loc = loc
	return s
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// LockDrive serialises index mutation for one mount point.
func (s *SQLite) LockDrive(mount string) func() {
	return s.locks.Lock(mount)
}

// Rebuild replaces every entry of mount with what is found on disk.
func (s *SQLite) Rebuild(ctx context.Context, mount string) (int, error) {
	cams, err := layout.Cameras(mount)
	if err != nil {
		return 0, fmt.Errorf("scan cameras: %w", err)
	}

	var entries []Entry
	for _, cam := range cams {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		folders, err := layout.HourFolders(mount, cam, s.loc)
		if err != nil {
			return 0, fmt.Errorf("scan camera %d: %w", cam, err)
		}
		for _, f := range folders {
			size, _ := fsutil.DirSize(f.Path)
			entries = append(entries, Entry{Mount: mount, Camera: cam, Hour: f.Time, Bytes: size, Files: countFiles(f.Path)})
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rebuild: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM hour_folders WHERE mount = ?`, mount); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("clear index: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO hour_folders (mount, camera, hour_start, bytes, files) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Mount, e.Camera, e.Hour.Unix(), int64(e.Bytes), e.Files); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rebuild: %w", err)
	}

	logger := xglog.WithComponent("index")
	logger.Info().
		Str(xglog.FieldEvent, "index.rebuilt").
		Str(xglog.FieldMountPoint, mount).
		Int("entries", len(entries)).
		Msg("recording index rebuilt")
	return len(entries), nil
}

// Upsert records or refreshes one hour folder.
func (s *SQLite) Upsert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hour_folders (mount, camera, hour_start, bytes, files) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (mount, camera, hour_start) DO UPDATE SET bytes = excluded.bytes, files = excluded.files`,
		e.Mount, e.Camera, e.Hour.Unix(), int64(e.Bytes), e.Files)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

// RemoveFolder drops the entry of one hour folder and logs the removal.
func (s *SQLite) RemoveFolder(ctx context.Context, mount string, camera int, hour time.Time, mode RemoveMode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM hour_folders WHERE mount = ? AND camera = ? AND hour_start = ?`,
		mount, camera, hour.Unix()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO removals (mount, camera, hour_start, mode, removed_at) VALUES (?, ?, ?, ?, ?)`,
		mount, camera, hour.Unix(), mode.String(), s.now().Unix()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("log removal: %w", err)
	}
	return tx.Commit()
}

// Entries lists the entries of mount for camera, oldest first.
// A camera of 0 lists every camera.
func (s *SQLite) Entries(ctx context.Context, mount string, camera int) ([]Entry, error) {
	q := `SELECT mount, camera, hour_start, bytes, files FROM hour_folders WHERE mount = ?`
	args := []any{mount}
	if camera > 0 {
		q += ` AND camera = ?`
		args = append(args, camera)
	}
	q += ` ORDER BY hour_start, camera`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts, bytes int64
		if err := rows.Scan(&e.Mount, &e.Camera, &ts, &bytes, &e.Files); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Hour = time.Unix(ts, 0).In(s.loc)
		e.Bytes = uint64(bytes)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Removals counts logged removals of mount by mode.
func (s *SQLite) Removals(ctx context.Context, mount string, mode RemoveMode) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM removals WHERE mount = ? AND mode = ?`, mount, mode.String()).Scan(&n)
	return n, err
}

func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && e.Name() != layout.InUseMarker {
			n++
		}
	}
	return n
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package checkpoint persists the per-camera recovery checkpoint: the last
// date and hour a camera wrote, used to resume AVI re-encoding after restart.
//
// Record layout (16 bytes, big endian):
//
//	0  magic   [4]byte "NVCK"
//	4  version uint8   (1)
//	5  camera  uint8
//	6  date    uint8   day of month 1..31
//	7  month   uint8   1..12
//	8  year    uint16
//	10 hour    uint8   0..23
//	11 flags   uint8   reserved, zero
//	12 crc     uint32  IEEE CRC32 of bytes 0..11
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
)

// Version is the current record version.
const Version = 1

// Size is the encoded record length.
const Size = 16

var magic = [4]byte{'N', 'V', 'C', 'K'}

var (
	// ErrNotFound is returned when a camera has no checkpoint.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrCorrupt is returned for records that fail validation.
	ErrCorrupt = errors.New("checkpoint corrupt")
	// ErrVersion is returned for records written by an unknown version.
	ErrVersion = errors.New("checkpoint version unsupported")
)

// Record is a camera's last written hour.
type Record struct {
	Camera int
	Date   int
	Month  int
	Year   int
	Hour   int
}

// FromTime builds the record of camera for the hour containing t.
func FromTime(camera int, t time.Time) Record {
	return Record{Camera: camera, Date: t.Day(), Month: int(t.Month()), Year: t.Year(), Hour: t.Hour()}
}

// Time returns the start of the recorded hour in loc.
func (r Record) Time(loc *time.Location) time.Time {
	return time.Date(r.Year, time.Month(r.Month), r.Date, r.Hour, 0, 0, 0, loc)
}

func (r Record) validate() error {
	switch {
	case r.Camera < 1 || r.Camera > 255:
		return fmt.Errorf("%w: camera %d", ErrCorrupt, r.Camera)
	case r.Date < 1 || r.Date > 31:
		return fmt.Errorf("%w: date %d", ErrCorrupt, r.Date)
	case r.Month < 1 || r.Month > 12:
		return fmt.Errorf("%w: month %d", ErrCorrupt, r.Month)
	case r.Year < 1970 || r.Year > 65535:
		return fmt.Errorf("%w: year %d", ErrCorrupt, r.Year)
	case r.Hour < 0 || r.Hour > 23:
		return fmt.Errorf("%w: hour %d", ErrCorrupt, r.Hour)
	}
	return nil
}

type wireRecord struct {
	Magic   [4]byte
	Version uint8
	Camera  uint8
	Date    uint8
	Month   uint8
	Year    uint16
	Hour    uint8
	Flags   uint8
	CRC     uint32
}

// MarshalBinary encodes r.
func (r Record) MarshalBinary() ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	w := wireRecord{
		Magic:   magic,
		Version: Version,
		Camera:  uint8(r.Camera),
		Date:    uint8(r.Date),
		Month:   uint8(r.Month),
		Year:    uint16(r.Year),
		Hour:    uint8(r.Hour),
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, w); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	binary.BigEndian.PutUint32(b[12:], crc32.ChecksumIEEE(b[:12]))
	return b, nil
}

// UnmarshalBinary decodes and validates data.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return fmt.Errorf("%w: length %d", ErrCorrupt, len(data))
	}
	var w wireRecord
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if w.Magic != magic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if w.Version != Version {
		return fmt.Errorf("%w: %d", ErrVersion, w.Version)
	}
	if crc32.ChecksumIEEE(data[:12]) != w.CRC {
		return fmt.Errorf("%w: crc mismatch", ErrCorrupt)
	}
	out := Record{
		Camera: int(w.Camera),
		Date:   int(w.Date),
		Month:  int(w.Month),
		Year:   int(w.Year),
		Hour:   int(w.Hour),
	}
	if err := out.validate(); err != nil {
		return err
	}
	*r = out
	return nil
}

// Store reads and writes checkpoint files below a directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the checkpoint file of camera.
func (s *Store) Path(camera int) string {
	return filepath.Join(s.dir, fmt.Sprintf("cam%02d.ckpt", camera))
}

// Save writes r atomically and durably.
func (s *Store) Save(r Record) error {
	data, err := r.MarshalBinary()
	if err != nil {
		return err
	}

	pending, err := renameio.NewPendingFile(s.Path(r.Camera))
	if err != nil {
		return fmt.Errorf("create pending checkpoint: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger := xglog.WithComponent("checkpoint")
			logger.Debug().Err(err).Msg("cleanup pending checkpoint")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint of camera.
func (s *Store) Load(camera int) (Record, error) {
	// #nosec G304 -- path is derived from the configured data dir and a camera number
	data, err := os.ReadFile(s.Path(camera))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var r Record
	if err := r.UnmarshalBinary(data); err != nil {
		return Record{}, err
	}
	if r.Camera != camera {
		return Record{}, fmt.Errorf("%w: file for camera %d holds camera %d", ErrCorrupt, camera, r.Camera)
	}
	return r, nil
}

// LoadAll loads the checkpoints of cameras 1..n, skipping missing ones.
// Corrupt records are logged and skipped.
func (s *Store) LoadAll(n int) map[int]Record {
	logger := xglog.WithComponent("checkpoint")
	out := make(map[int]Record)
	for cam := 1; cam <= n; cam++ {
		r, err := s.Load(cam)
		switch {
		case err == nil:
			out[cam] = r
		case errors.Is(err, ErrNotFound):
		default:
			logger.Warn().Err(err).Int(xglog.FieldCamera, cam).Msg("ignoring unreadable checkpoint")
		}
	}
	return out
}

// Remove deletes the checkpoint of camera. Missing files are not an error.
func (s *Store) Remove(camera int) error {
	if err := os.Remove(s.Path(camera)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package segment writes raw frame segments into the hour-folder layout.
// A segment is a sequence of records:
//
//	seq uint64 | unix nanos int64 | flags uint8 | length uint32 | payload
//
// all big endian. While a segment is open its hour folder carries the
// in-use marker so cleanup passes it over.
package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/camera"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/layout"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
	"github.com/rs/zerolog"
)

// Extension is the file suffix of raw segments.
const Extension = ".seg"

const (
	headerSize  = 8 + 8 + 1 + 4
	flagKey     = 1
	maxPayload  = 64 << 20
	writeBuffer = 256 << 10
)

var (
	// ErrNotOpen is returned for writes to a camera without an open segment.
	ErrNotOpen = errors.New("segment not open")
	// ErrCorrupt is returned by Reader for truncated or oversized records.
	ErrCorrupt = errors.New("corrupt segment")
)

type openFile struct {
	mount  string
	stream string
	dir    string
	hour   time.Time
	file   *os.File
	buf    *bufio.Writer
}

// Hooks observe segment lifecycle. Opened runs for every new hour folder,
// Closed when a camera's segment is closed without a successor.
type Hooks struct {
	Opened func(camera int, mount string, hour time.Time)
	Closed func(camera int)
}

// Writer implements the recorder's storage writer on a local or mounted
// filesystem.
type Writer struct {
	mu     sync.Mutex
	open   map[int]*openFile
	hooks  Hooks
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

// NewWriter creates a writer that names folders in loc.
func NewWriter(loc *time.Location) *Writer {
	if loc == nil {
		loc = time.Local
	}
	return &Writer{
		open:   make(map[int]*openFile),
		loc:    loc,
		now:    time.Now,
		logger: xglog.WithComponent("segment"),
	}
}

// SetHooks installs lifecycle hooks. Hooks run under the writer lock.
func (w *Writer) SetHooks(h Hooks) {
	w.mu.Lock()
	w.hooks = h
	w.mu.Unlock()
}

// Open starts a segment for camera below the target mount point.
func (w *Writer) Open(cam int, tgt volume.Target, stream string) error {
	if tgt.MountPoint == "" {
		return fmt.Errorf("open segment for camera %d: no mount point", cam)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if of, ok := w.open[cam]; ok {
		if err := w.closeLocked(cam, of); err != nil {
			w.logger.Warn().Err(err).Int(xglog.FieldCamera, cam).Msg("closing previous segment failed")
		}
	}
	of, err := w.create(cam, tgt.MountPoint, stream, w.now().In(w.loc))
	if err != nil {
		return err
	}
	w.open[cam] = of
	return nil
}

func (w *Writer) create(cam int, mount, stream string, t time.Time) (*openFile, error) {
	dir := layout.HourPath(mount, cam, t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create hour folder: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, layout.InUseMarker), nil, 0o644); err != nil {
		return nil, fmt.Errorf("create in-use marker: %w", err)
	}
	name := fmt.Sprintf("%s_%s%s", t.Format("150405"), stream, Extension)
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = os.Remove(filepath.Join(dir, layout.InUseMarker))
		return nil, fmt.Errorf("open segment: %w", err)
	}
	w.logger.Debug().
		Int(xglog.FieldCamera, cam).
		Str(xglog.FieldPath, f.Name()).
		Msg("segment opened")
	if w.hooks.Opened != nil {
		w.hooks.Opened(cam, mount, t.Truncate(time.Hour))
	}
	return &openFile{
		mount:  mount,
		stream: stream,
		dir:    dir,
		hour:   t.Truncate(time.Hour),
		file:   f,
		buf:    bufio.NewWriterSize(f, writeBuffer),
	}, nil
}

// Write appends a frame, rolling over to a new hour folder when the frame
// time crosses the hour.
func (w *Writer) Write(cam int, fr camera.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	of, ok := w.open[cam]
	if !ok {
		return fmt.Errorf("%w: camera %d", ErrNotOpen, cam)
	}
	t := fr.Time
	if t.IsZero() {
		t = w.now()
	}
	t = t.In(w.loc)
	if t.Truncate(time.Hour).After(of.hour) {
		next, err := w.create(cam, of.mount, of.stream, t)
		if err != nil {
			return err
		}
		if err := w.finishLocked(of); err != nil {
			w.logger.Warn().Err(err).Int(xglog.FieldCamera, cam).Msg("closing rolled segment failed")
		}
		w.open[cam] = next
		of = next
	}
	return writeRecord(of.buf, fr, t)
}

func writeRecord(wr io.Writer, fr camera.Frame, t time.Time) error {
	if len(fr.Data) > maxPayload {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(fr.Data))
	}
	var hdr [headerSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], fr.Seq)
	binary.BigEndian.PutUint64(hdr[8:16], uint64(t.UnixNano()))
	if fr.KeyFrame {
		hdr[16] = flagKey
	}
	binary.BigEndian.PutUint32(hdr[17:21], uint32(len(fr.Data)))
	if _, err := wr.Write(hdr[:]); err != nil {
		return err
	}
	_, err := wr.Write(fr.Data)
	return err
}

// Close flushes and closes the camera's segment and clears the marker.
func (w *Writer) Close(cam int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	of, ok := w.open[cam]
	if !ok {
		return nil
	}
	return w.closeLocked(cam, of)
}

func (w *Writer) closeLocked(cam int, of *openFile) error {
	delete(w.open, cam)
	err := w.finishLocked(of)
	w.logger.Debug().Int(xglog.FieldCamera, cam).Str(xglog.FieldPath, of.dir).Msg("segment closed")
	if w.hooks.Closed != nil {
		w.hooks.Closed(cam)
	}
	return err
}

// finishLocked flushes and closes of and clears its folder marker.
func (w *Writer) finishLocked(of *openFile) error {
	err := of.buf.Flush()
	if serr := of.file.Sync(); err == nil {
		err = serr
	}
	if cerr := of.file.Close(); err == nil {
		err = cerr
	}
	if rerr := os.Remove(filepath.Join(of.dir, layout.InUseMarker)); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
		err = rerr
	}
	return err
}

// CloseAll closes every open segment.
func (w *Writer) CloseAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for cam, of := range w.open {
		if err := w.closeLocked(cam, of); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenDir returns the hour folder of camera's open segment.
func (w *Writer) OpenDir(cam int) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	of, ok := w.open[cam]
	if !ok {
		return "", false
	}
	return of.dir, true
}

// InUse reports whether dir holds a segment that is open right now.
func (w *Writer) InUse(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, of := range w.open {
		if of.dir == dir {
			return true
		}
	}
	return false
}

// Record is one decoded segment record.
type Record struct {
	Seq      uint64
	Time     time.Time
	KeyFrame bool
	Data     []byte
}

// Reader decodes a segment file.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record or io.EOF at a clean end.
func (rd *Reader) Next() (Record, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(rd.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	n := binary.BigEndian.Uint32(hdr[17:21])
	if n > maxPayload {
		return Record{}, fmt.Errorf("%w: payload of %d bytes", ErrCorrupt, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(rd.r, data); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return Record{
		Seq:      binary.BigEndian.Uint64(hdr[0:8]),
		Time:     time.Unix(0, int64(binary.BigEndian.Uint64(hdr[8:16]))),
		KeyFrame: hdr[16]&flagKey != 0,
		Data:     data,
	}, nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package camera is the boundary to the streaming pipeline. The Hub keeps a
// bounded frame buffer per camera that the pipeline publishes into and
// reports stream lifecycle changes to a Listener.
package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/rs/zerolog"
)

// Purpose is why a stream is requested.
type Purpose int

const (
	PurposeRecord Purpose = iota
	PurposePreAlarm
	PurposePreCosec
)

func (p Purpose) String() string {
	switch p {
	case PurposePreAlarm:
		return "pre_alarm"
	case PurposePreCosec:
		return "pre_cosec"
	default:
		return "record"
	}
}

// Frame is one encoded media frame.
type Frame struct {
	Camera   int
	Stream   string
	Seq      uint64
	Time     time.Time
	KeyFrame bool
	Data     []byte
}

// Listener receives stream lifecycle callbacks. Calls never happen from
// inside StartStream or StopStream.
type Listener interface {
	OnStreamStarted(camera int, stream string)
	OnStreamFailed(camera int, stream string, rejected bool)
	OnStreamRetry(camera int, stream string)
	OnStreamClosed(camera int, stream string)
	OnMediaAvailable(camera int)
}

// Pipeline opens and closes upstream streams. It reports back through the
// Hub's Started/Failed/Retry/Closed methods.
type Pipeline interface {
	Open(camera int, stream string) error
	Close(camera int, stream string)
}

var (
	// ErrUnknownCamera is returned for camera numbers outside the hub.
	ErrUnknownCamera = errors.New("unknown camera")
)

// DefaultBufferFrames is the per-camera buffer size.
const DefaultBufferFrames = 256

type feed struct {
	frames   []Frame
	dropped  uint64
	stream   string
	purposes map[Purpose]bool
}

// Hub implements the recorder's camera collaborator.
type Hub struct {
	mu       sync.Mutex
	feeds    []*feed
	limit    int
	pipeline Pipeline
	listener Listener
	logger   zerolog.Logger
}

// NewHub creates a hub for cameras 1..n.
func NewHub(n, bufferFrames int, p Pipeline) *Hub {
	if bufferFrames <= 0 {
		bufferFrames = DefaultBufferFrames
	}
	h := &Hub{
		feeds:    make([]*feed, n+1),
		limit:    bufferFrames,
		pipeline: p,
		logger:   xglog.WithComponent("camera"),
	}
	for i := 1; i <= n; i++ {
		h.feeds[i] = &feed{purposes: make(map[Purpose]bool)}
	}
	return h
}

// SetListener installs the lifecycle listener.
func (h *Hub) SetListener(l Listener) {
	h.mu.Lock()
	h.listener = l
	h.mu.Unlock()
}

func (h *Hub) feedLocked(camera int) (*feed, error) {
	if camera <= 0 || camera >= len(h.feeds) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCamera, camera)
	}
	return h.feeds[camera], nil
}

// StartStream requests stream for purpose. Without a pipeline the stream is
// confirmed asynchronously.
func (h *Hub) StartStream(camera int, stream string, purpose Purpose) error {
	h.mu.Lock()
	f, err := h.feedLocked(camera)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	first := len(f.purposes) == 0 || f.stream != stream
	f.purposes[purpose] = true
	f.stream = stream
	p := h.pipeline
	h.mu.Unlock()

	h.logger.Debug().Int(xglog.FieldCamera, camera).Str(xglog.FieldStream, stream).
		Str("purpose", purpose.String()).Msg("stream requested")
	if p == nil {
		go h.Started(camera, stream)
		return nil
	}
	if first {
		return p.Open(camera, stream)
	}
	go h.Started(camera, stream)
	return nil
}

// StopStream releases purpose on stream. The upstream stream closes once no
// purpose holds it.
func (h *Hub) StopStream(camera int, stream string, purpose Purpose) {
	h.mu.Lock()
	f, err := h.feedLocked(camera)
	if err != nil || f.stream != stream {
		h.mu.Unlock()
		return
	}
	delete(f.purposes, purpose)
	last := len(f.purposes) == 0
	if last {
		f.frames = nil
		f.stream = ""
	}
	p := h.pipeline
	h.mu.Unlock()

	if last && p != nil {
		p.Close(camera, stream)
	}
}

// Publish appends a frame to its camera's buffer, dropping the oldest frame
// when full.
func (h *Hub) Publish(fr Frame) error {
	h.mu.Lock()
	f, err := h.feedLocked(fr.Camera)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	if f.stream == "" || (fr.Stream != "" && fr.Stream != f.stream) {
		h.mu.Unlock()
		return nil
	}
	wasEmpty := len(f.frames) == 0
	if len(f.frames) >= h.limit {
		f.frames = f.frames[1:]
		f.dropped++
	}
	f.frames = append(f.frames, fr)
	l := h.listener
	h.mu.Unlock()

	if wasEmpty && l != nil {
		l.OnMediaAvailable(fr.Camera)
	}
	return nil
}

// Drain removes up to max buffered frames of camera and reports how many
// remain.
func (h *Hub) Drain(camera, max int) ([]Frame, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := h.feedLocked(camera)
	if err != nil || len(f.frames) == 0 {
		return nil, 0
	}
	n := len(f.frames)
	if max > 0 && n > max {
		n = max
	}
	out := make([]Frame, n)
	copy(out, f.frames[:n])
	f.frames = f.frames[n:]
	return out, len(f.frames)
}

// Dropped returns how many frames were discarded on a full buffer.
func (h *Hub) Dropped(camera int) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := h.feedLocked(camera)
	if err != nil {
		return 0
	}
	return f.dropped
}

func (h *Hub) notify(fn func(Listener)) {
	h.mu.Lock()
	l := h.listener
	h.mu.Unlock()
	if l != nil {
		fn(l)
	}
}

// Started reports that the upstream stream is delivering.
func (h *Hub) Started(camera int, stream string) {
	h.notify(func(l Listener) { l.OnStreamStarted(camera, stream) })
}

// Failed reports that the stream could not be opened. rejected means the
// camera answered but refused it.
func (h *Hub) Failed(camera int, stream string, rejected bool) {
	h.notify(func(l Listener) { l.OnStreamFailed(camera, stream, rejected) })
}

// Retry reports a transient reconnect of the stream.
func (h *Hub) Retry(camera int, stream string) {
	h.notify(func(l Listener) { l.OnStreamRetry(camera, stream) })
}

// Closed reports that the stream ended upstream.
func (h *Hub) Closed(camera int, stream string) {
	h.mu.Lock()
	if f, err := h.feedLocked(camera); err == nil && f.stream == stream {
		f.frames = nil
	}
	h.mu.Unlock()
	h.notify(func(l Listener) { l.OnStreamClosed(camera, stream) })
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the HTTP control surface of the recorder daemon:
// probes, metrics, volume and session status, record requests and the
// maintenance and cleanup triggers.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/cleanup"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/diskops"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/jobs"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/recorder"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds graceful shutdown when none is configured.
const DefaultShutdownTimeout = 10 * time.Second

// Recorder is the session manager as seen by the API.
type Recorder interface {
	StartRecord(cam int, t recorder.RecordType, user string) error
	StopRecord(cam int, t recorder.RecordType, force bool) error
	Session(cam int) (recorder.SessionInfo, error)
	Sessions() []recorder.SessionInfo
}

// Maintenance runs disk maintenance jobs.
type Maintenance interface {
	Format(id volume.ID) (string, error)
	Recover(id volume.ID) (string, error)
	Unplug(device string, cb diskops.UnplugCallback) (string, error)
	Status() []jobs.Status
}

// Cleanup starts and cancels cleanup jobs.
type Cleanup interface {
	DeleteOldest(mask uint32, targetBytes uint64) (cleanup.Result, error)
	RetentionByDay() (cleanup.Result, error)
	BackupCleanup() (cleanup.Result, error)
	Cancel(k cleanup.Kind) error
	Status(k cleanup.Kind) (jobs.Status, error)
}

// Volumes reports volume health.
type Volumes interface {
	Snapshot() []volume.State
}

// Events lists recent events, newest last.
type Events interface {
	Events() []eventlog.Event
}

// Probes serves liveness and readiness.
type Probes interface {
	ServeHealth(w http.ResponseWriter, r *http.Request)
	ServeReady(w http.ResponseWriter, r *http.Request)
}

// Deps are the components behind the handlers. Nil components answer 503.
type Deps struct {
	Recorder    Recorder
	Maintenance Maintenance
	Cleanup     Cleanup
	Volumes     Volumes
	Events      Events
	Probes      Probes
	// UnplugWait bounds how long an unplug request waits for its outcome
	// before answering 202.
	UnplugWait time.Duration
}

// Server is the control API.
type Server struct {
	cfg     config.APIConfig
	deps    Deps
	logger  zerolog.Logger
	handler http.Handler
}

// New creates a server.
func New(cfg config.APIConfig, deps Deps) *Server {
	if deps.UnplugWait <= 0 {
		deps.UnplugWait = 30 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent("api"),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str(log.FieldEvent, "api.listening").Str("addr", s.cfg.Listen).Msg("control API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("graceful shutdown incomplete")
		_ = srv.Close()
	}
	<-errCh
	s.logger.Info().Str(log.FieldEvent, "api.stopped").Msg("control API stopped")
	return nil
}

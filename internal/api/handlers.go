// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/cleanup"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/jobs"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/recorder"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
)

// HeaderUser names the operator behind a record request.
const HeaderUser = "X-NVR-User"

type jobResponse struct {
	Kind  string `json:"kind"`
	JobID string `json:"job_id,omitempty"`
}

type cleanupResponse struct {
	Kind   string `json:"kind"`
	Result string `json:"result"`
}

type unplugResponse struct {
	Device string `json:"device"`
	JobID  string `json:"job_id"`
	Done   bool   `json:"done"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Probes == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	s.deps.Probes.ServeHealth(w, r)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Probes == nil {
		writeError(w, errNotConfigured)
		return
	}
	s.deps.Probes.ServeReady(w, r)
}

func (s *Server) handleVolumes(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Volumes == nil {
		writeError(w, errNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Volumes.Snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Recorder == nil {
		writeError(w, errNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Recorder.Sessions())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeError(w, errNotConfigured)
		return
	}
	cam, err := cameraParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := s.deps.Recorder.Session(cam)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	var out []jobs.Status
	if s.deps.Maintenance != nil {
		out = append(out, s.deps.Maintenance.Status()...)
	}
	if s.deps.Cleanup != nil {
		for _, k := range cleanupKinds {
			if st, err := s.deps.Cleanup.Status(k); err == nil {
				out = append(out, st)
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, errNotConfigured)
		return
	}
	events := s.deps.Events.Events()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		if n < len(events) {
			events = events[len(events)-n:]
		}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleStartRecord(w http.ResponseWriter, r *http.Request) {
	cam, rt, ok := s.recordParams(w, r)
	if !ok {
		return
	}
	user := r.Header.Get(HeaderUser)
	if user == "" {
		user = "api"
	}
	if err := s.deps.Recorder.StartRecord(cam, rt, user); err != nil {
		writeError(w, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "api.record_start").
		Int(log.FieldCamera, cam).
		Str(log.FieldRecordType, rt.String()).
		Str("user", user).
		Msg("record start requested")
	s.writeSession(w, cam, http.StatusAccepted)
}

func (s *Server) handleStopRecord(w http.ResponseWriter, r *http.Request) {
	cam, rt, ok := s.recordParams(w, r)
	if !ok {
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := s.deps.Recorder.StopRecord(cam, rt, force); err != nil {
		writeError(w, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "api.record_stop").
		Int(log.FieldCamera, cam).
		Str(log.FieldRecordType, rt.String()).
		Bool("force", force).
		Msg("record stop requested")
	s.writeSession(w, cam, http.StatusAccepted)
}

func (s *Server) recordParams(w http.ResponseWriter, r *http.Request) (int, recorder.RecordType, bool) {
	if s.deps.Recorder == nil {
		writeError(w, errNotConfigured)
		return 0, 0, false
	}
	cam, err := cameraParam(r)
	if err != nil {
		writeError(w, err)
		return 0, 0, false
	}
	rt, err := recorder.ParseRecordType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, err)
		return 0, 0, false
	}
	return cam, rt, true
}

func (s *Server) writeSession(w http.ResponseWriter, cam, code int) {
	info, err := s.deps.Recorder.Session(cam)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, code, info)
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	s.startMaintenance(w, r, "format", func(id volume.ID) (string, error) {
		return s.deps.Maintenance.Format(id)
	})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	s.startMaintenance(w, r, "recovery", func(id volume.ID) (string, error) {
		return s.deps.Maintenance.Recover(id)
	})
}

func (s *Server) startMaintenance(w http.ResponseWriter, r *http.Request, kind string, fn func(volume.ID) (string, error)) {
	if s.deps.Maintenance == nil {
		writeError(w, errNotConfigured)
		return
	}
	id, err := parseMedia(chi.URLParam(r, "media"))
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := fn(id)
	if err != nil {
		writeError(w, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "api."+kind+"_started").
		Str(log.FieldMedia, id.String()).
		Str(log.FieldJobID, jobID).
		Msg("maintenance job started")
	writeJSON(w, http.StatusAccepted, jobResponse{Kind: kind, JobID: jobID})
}

// handleUnplug waits for the unmount outcome for up to UnplugWait, then
// answers 202 with the job still running.
func (s *Server) handleUnplug(w http.ResponseWriter, r *http.Request) {
	if s.deps.Maintenance == nil {
		writeError(w, errNotConfigured)
		return
	}
	device, err := url.PathUnescape(chi.URLParam(r, "device"))
	if err != nil || device == "" {
		writeError(w, errBadMedia)
		return
	}

	result := make(chan error, 1)
	jobID, err := s.deps.Maintenance.Unplug(device, func(_ string, err error) {
		result <- err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := unplugResponse{Device: device, JobID: jobID}
	t := time.NewTimer(s.deps.UnplugWait)
	defer t.Stop()
	select {
	case err := <-result:
		resp.Done = true
		if err != nil {
			resp.Error = err.Error()
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case <-t.C:
		writeJSON(w, http.StatusAccepted, resp)
	case <-r.Context().Done():
	}
}

var cleanupKinds = []cleanup.Kind{cleanup.KindDeleteOldest, cleanup.KindRetention, cleanup.KindBackup}

func (s *Server) handleStartCleanup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cleanup == nil {
		writeError(w, errNotConfigured)
		return
	}
	kind := cleanup.Kind(chi.URLParam(r, "kind"))

	var (
		res cleanup.Result
		err error
	)
	switch kind {
	case cleanup.KindRetention:
		res, err = s.deps.Cleanup.RetentionByDay()
	case cleanup.KindBackup:
		res, err = s.deps.Cleanup.BackupCleanup()
	case cleanup.KindDeleteOldest:
		mask, target, perr := oldestParams(r.URL.Query())
		if perr != nil {
			writeError(w, perr)
			return
		}
		res, err = s.deps.Cleanup.DeleteOldest(mask, target)
	default:
		writeError(w, fmt.Errorf("%w: %q", errBadKind, kind))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusAccepted
	if res == cleanup.AlreadyRunning {
		code = http.StatusOK
	}
	writeJSON(w, code, cleanupResponse{Kind: string(kind), Result: res.String()})
}

func (s *Server) handleCancelCleanup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cleanup == nil {
		writeError(w, errNotConfigured)
		return
	}
	kind := cleanup.Kind(chi.URLParam(r, "kind"))
	if err := s.deps.Cleanup.Cancel(kind); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadKind, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// oldestParams reads the volume mask and byte target of a delete-oldest
// request. The mask defaults to every local volume.
func oldestParams(q url.Values) (uint32, uint64, error) {
	mask := uint32(1<<volume.MaxLocalVolumes - 1)
	if v := q.Get("mask"); v != "" {
		m, err := strconv.ParseUint(v, 0, 32)
		if err != nil || m == 0 {
			return 0, 0, fmt.Errorf("invalid volume mask %q", v)
		}
		mask = uint32(m)
	}
	target, err := strconv.ParseUint(q.Get("bytes"), 10, 64)
	if err != nil || target == 0 {
		return 0, 0, fmt.Errorf("invalid byte target %q", q.Get("bytes"))
	}
	return mask, target, nil
}

func cameraParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "cam")
	cam, err := strconv.Atoi(raw)
	if err != nil || cam < 1 {
		return 0, fmt.Errorf("%w: %q", errBadCamera, raw)
	}
	return cam, nil
}

// parseMedia accepts a volume number or a volume name such as "hdd2" or
// "nas1".
func parseMedia(raw string) (volume.ID, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		id := volume.ID(n)
		if id.IsLocal() || id.IsNAS() {
			return id, nil
		}
		return 0, fmt.Errorf("%w: %q", errBadMedia, raw)
	}
	name := strings.ToLower(raw)
	for _, id := range []volume.ID{volume.NAS1, volume.NAS2} {
		if id.String() == name {
			return id, nil
		}
	}
	for i := 0; i < volume.MaxLocalVolumes; i++ {
		if id := volume.ID(i); id.String() == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", errBadMedia, raw)
}

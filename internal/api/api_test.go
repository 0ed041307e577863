// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/cleanup"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/diskops"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/eventlog"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/health"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/jobs"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/recorder"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordCall struct {
	Cam   int
	Type  recorder.RecordType
	User  string
	Force bool
	Start bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordCall
	err   error
}

func (f *fakeRecorder) StartRecord(cam int, t recorder.RecordType, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordCall{Cam: cam, Type: t, User: user, Start: true})
	return f.err
}

func (f *fakeRecorder) StopRecord(cam int, t recorder.RecordType, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordCall{Cam: cam, Type: t, Force: force})
	return f.err
}

func (f *fakeRecorder) Session(cam int) (recorder.SessionInfo, error) {
	if cam > 4 {
		return recorder.SessionInfo{}, recorder.ErrUnknownCamera
	}
	return recorder.SessionInfo{Camera: cam, State: recorder.StateOnWait.String()}, nil
}

func (f *fakeRecorder) Sessions() []recorder.SessionInfo {
	return []recorder.SessionInfo{{Camera: 1}, {Camera: 2}}
}

type fakeMaintenance struct {
	formatted []volume.ID
	formatErr error
	unplugErr error
	hold      bool
}

func (f *fakeMaintenance) Format(id volume.ID) (string, error) {
	if f.formatErr != nil {
		return "", f.formatErr
	}
	f.formatted = append(f.formatted, id)
	return "job-1", nil
}

func (f *fakeMaintenance) Recover(volume.ID) (string, error) { return "job-2", nil }

func (f *fakeMaintenance) Unplug(device string, cb diskops.UnplugCallback) (string, error) {
	if !f.hold {
		go cb(device, f.unplugErr)
	}
	return "job-3", nil
}

func (f *fakeMaintenance) Status() []jobs.Status {
	return []jobs.Status{{Kind: diskops.KindFormat}}
}

type fakeCleanup struct {
	mu        sync.Mutex
	mask      uint32
	target    uint64
	running   bool
	cancelled []cleanup.Kind
}

func (f *fakeCleanup) result() cleanup.Result {
	if f.running {
		return cleanup.AlreadyRunning
	}
	return cleanup.Started
}

func (f *fakeCleanup) DeleteOldest(mask uint32, target uint64) (cleanup.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mask, f.target = mask, target
	return f.result(), nil
}

func (f *fakeCleanup) RetentionByDay() (cleanup.Result, error) { return f.result(), nil }

func (f *fakeCleanup) BackupCleanup() (cleanup.Result, error) { return f.result(), nil }

func (f *fakeCleanup) Cancel(k cleanup.Kind) error {
	if k != cleanup.KindRetention && k != cleanup.KindBackup && k != cleanup.KindDeleteOldest {
		return fmt.Errorf("unknown cleanup kind %q", k)
	}
	f.cancelled = append(f.cancelled, k)
	return nil
}

func (f *fakeCleanup) Status(k cleanup.Kind) (jobs.Status, error) {
	return jobs.Status{Kind: string(k)}, nil
}

type harness struct {
	srv   *Server
	rec   *fakeRecorder
	maint *fakeMaintenance
	clean *fakeCleanup
	reg   *volume.Registry
}

func newHarness(t *testing.T, rateLimit int) *harness {
	t.Helper()
	h := &harness{
		rec:   &fakeRecorder{},
		maint: &fakeMaintenance{},
		clean: &fakeCleanup{},
		reg:   volume.NewRegistry(),
	}
	probes := health.NewManager("test")
	probes.RegisterChecker(health.NewVolumeChecker(h.reg))
	h.srv = New(config.APIConfig{RateLimit: rateLimit}, Deps{
		Recorder:    h.rec,
		Maintenance: h.maint,
		Cleanup:     h.clean,
		Volumes:     h.reg,
		Probes:      probes,
		UnplugWait:  200 * time.Millisecond,
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.10:5555"
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestProbesFollowVolumes(t *testing.T) {
	h := newHarness(t, 0)

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/readyz").Code)

	h.reg.SetHealth(0, volume.HealthNormal)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, 0)
	h.do(t, http.MethodGet, "/api/v1/volumes")

	rec := h.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nvr_http_request_duration_seconds")
}

func TestVolumesListing(t *testing.T) {
	h := newHarness(t, 0)
	h.reg.SetHealth(0, volume.HealthNormal)
	h.reg.SetHealth(volume.NAS1, volume.HealthError)

	rec := h.do(t, http.MethodGet, "/api/v1/volumes")
	require.Equal(t, http.StatusOK, rec.Code)

	var states []volume.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states, 2)
	assert.Equal(t, "hdd1", states[0].Name)
	assert.Equal(t, "error", states[1].HealthName)
}

func TestRecordStartAndStop(t *testing.T) {
	h := newHarness(t, 0)

	rec := h.do(t, http.MethodPost, "/api/v1/cameras/2/record/alarm", HeaderUser, "alice")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"camera":2`)

	rec = h.do(t, http.MethodDelete, "/api/v1/cameras/2/record/alarm?force=true")
	require.Equal(t, http.StatusAccepted, rec.Code)

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	assert.Equal(t, []recordCall{
		{Cam: 2, Type: recorder.Alarm, User: "alice", Start: true},
		{Cam: 2, Type: recorder.Alarm, Force: true},
	}, h.rec.calls)
}

func TestRecordRejectsBadInput(t *testing.T) {
	h := newHarness(t, 0)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/v1/cameras/2/record/bogus").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/v1/cameras/zero/record/manual").Code)

	h.rec.err = recorder.ErrUnknownCamera
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/api/v1/cameras/9/record/manual").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/cameras/9/session").Code)
}

func TestFormatByNameAndNumber(t *testing.T) {
	h := newHarness(t, 0)

	rec := h.do(t, http.MethodPost, "/api/v1/media/hdd2/format")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "job-1")

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/api/v1/media/16/format").Code)
	assert.Equal(t, []volume.ID{1, volume.NAS1}, h.maint.formatted)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/api/v1/media/floppy/format").Code)
}

func TestFormatBusyIsConflict(t *testing.T) {
	h := newHarness(t, 0)
	h.maint.formatErr = fmt.Errorf("unable to format: %w", diskops.ErrBusy)

	rec := h.do(t, http.MethodPost, "/api/v1/media/5/format")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "unable to format")

	h.maint.formatErr = fmt.Errorf("unable to format: %w", diskops.ErrProcess)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodPost, "/api/v1/media/5/format").Code)
}

func TestUnplugOutcome(t *testing.T) {
	h := newHarness(t, 0)

	rec := h.do(t, http.MethodPost, "/api/v1/backup/sdc1/unplug")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"done":true`)

	h.maint.unplugErr = errors.New("target is busy")
	rec = h.do(t, http.MethodPost, "/api/v1/backup/sdc1/unplug")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "target is busy")

	h.maint.hold = true
	rec = h.do(t, http.MethodPost, "/api/v1/backup/sdc1/unplug")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"done":false`)
}

func TestCleanupTriggers(t *testing.T) {
	h := newHarness(t, 0)

	assert.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/api/v1/cleanup/retention").Code)

	h.clean.running = true
	rec := h.do(t, http.MethodPost, "/api/v1/cleanup/backup_cleanup")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_running")
	h.clean.running = false

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/api/v1/cleanup/delete_oldest?mask=0x3&bytes=1048576").Code)
	assert.Equal(t, uint32(3), h.clean.mask)
	assert.Equal(t, uint64(1<<20), h.clean.target)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/v1/cleanup/delete_oldest").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/v1/cleanup/defrag").Code)

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/v1/cleanup/retention").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodDelete, "/api/v1/cleanup/defrag").Code)
	assert.Equal(t, []cleanup.Kind{cleanup.KindRetention}, h.clean.cancelled)
}

func TestJobsListing(t *testing.T) {
	h := newHarness(t, 0)
	rec := h.do(t, http.MethodGet, "/api/v1/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var st []jobs.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Len(t, st, 4)
}

func TestMutationsAreRateLimited(t *testing.T) {
	h := newHarness(t, 2)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/api/v1/cameras/1/record/manual").Code)
	}
	rec := h.do(t, http.MethodPost, "/api/v1/cameras/1/record/manual")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rate_limit_exceeded"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/v1/sessions").Code)
}

func TestRequestIDEchoed(t *testing.T) {
	h := newHarness(t, 0)
	rec := h.do(t, http.MethodGet, "/api/v1/sessions", "X-Request-ID", "req-42")
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestEventsListing(t *testing.T) {
	mem := eventlog.NewMemory(10)
	em := eventlog.NewEmitter(mem)
	for i := 0; i < 3; i++ {
		em.Emit(context.Background(), eventlog.CategoryStorage, eventlog.SubtypeDiskFull, fmt.Sprintf("hdd%d", i+1), "", eventlog.StateActive)
	}
	srv := New(config.APIConfig{}, Deps{Events: mem})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var evs []eventlog.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	require.Len(t, evs, 2)
	assert.Equal(t, "hdd3", evs[1].Detail)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingComponentsAnswerUnavailable(t *testing.T) {
	srv := New(config.APIConfig{}, Deps{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

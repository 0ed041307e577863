// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/config"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: m.status}
}

func TestManager_Health_NoCheckers(t *testing.T) {
	m := NewManager("v1.0.0")

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.GreaterOrEqual(t, resp.Uptime, int64(0))
	assert.Nil(t, resp.Checks)
}

func TestManager_Health_Verbose(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "healthy", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestManager_Ready(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})
	assert.True(t, m.Ready(context.Background()).Ready)

	m.RegisterChecker(&mockChecker{name: "unhealthy", status: StatusUnhealthy})
	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestServeReady(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "volumes", status: StatusUnhealthy})

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)

	rec = httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVolumeChecker(t *testing.T) {
	reg := volume.NewRegistry()
	c := NewVolumeChecker(reg)

	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)

	reg.SetHealth(0, volume.HealthNormal)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	reg.SetHealth(1, volume.HealthError)
	res := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Contains(t, res.Error, "hdd2=error")

	reg.SetStatus(0, volume.StatusFull)
	res = c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Contains(t, res.Error, "hdd1=full")
}

func TestVolumeCheckerNonFunctional(t *testing.T) {
	reg := volume.NewRegistry()
	reg.SetHealth(0, volume.HealthNormal)
	reg.SetHealth(1, volume.HealthNormal)
	reg.SetNonFunctional(1, true)

	res := NewVolumeChecker(reg).Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Contains(t, res.Error, "non_functional")
}

func TestDirChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewDirChecker("data", "").Check(context.Background()).Status)
	assert.Equal(t, StatusHealthy, NewDirChecker("data", t.TempDir()).Check(context.Background()).Status)

	missing := filepath.Join(t.TempDir(), "missing")
	assert.Equal(t, StatusUnhealthy, NewDirChecker("data", missing).Check(context.Background()).Status)
}

func TestPerformStartupChecks(t *testing.T) {
	cfg := config.Snapshot{
		DataDir: filepath.Join(t.TempDir(), "data"),
		API:     config.APIConfig{Listen: "127.0.0.1:8088"},
		Storage: config.StorageConfig{Volumes: []config.VolumeConfig{{Name: "hdd1", MountPoint: t.TempDir()}}},
	}
	require.NoError(t, PerformStartupChecks(context.Background(), cfg))

	bad := cfg
	bad.API.Listen = "nope"
	assert.Error(t, PerformStartupChecks(context.Background(), bad))

	bad = cfg
	bad.Storage.Volumes = []config.VolumeConfig{{MountPoint: "relative/path"}}
	assert.Error(t, PerformStartupChecks(context.Background(), bad))

	bad = cfg
	bad.Storage.FormatCommand = []string{"definitely-not-a-real-mkfs-binary"}
	assert.Error(t, PerformStartupChecks(context.Background(), bad))
}

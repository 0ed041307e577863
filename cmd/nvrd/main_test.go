// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/checkpoint"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/persistence/sqlite"
)

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	mount := filepath.Join(dir, "hdd1")
	path := filepath.Join(dir, "nvrd.yaml")
	body := "dataDir: " + dir + "\ncameras: 4\nstorage:\n  volumes:\n    - name: hdd1\n      mountPoint: " + mount + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	var out, errOut bytes.Buffer
	code := runConfig([]string{"validate", "--file", path}, &out, &errOut)
	assert.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "is valid")
}

func TestConfigValidateRequiresFile(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, runConfig([]string{"validate"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "--file is required")
}

func TestConfigDumpMasksPassword(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nvrd.yaml")
	body := "dataDir: " + dir + "\nstorage:\n  volumes:\n    - name: hdd1\n      mountPoint: " + filepath.Join(dir, "hdd1") + "\nbackup:\n  ftp:\n    addr: ftp.example:21\n    password: hunter2\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	var out, errOut bytes.Buffer
	code := runConfig([]string{"dump", "--file", path, "--format", "json"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.NotContains(t, out.String(), "hunter2")
	assert.Contains(t, out.String(), "***")
}

func TestUnknownSubcommands(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, runConfig([]string{"bogus"}, &out, &errOut))
	assert.Equal(t, 2, runIndex([]string{"bogus"}, &out, &errOut))
	assert.Equal(t, 2, runCheckpoint([]string{"bogus"}, &out, &errOut))
}

func TestIndexVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var out, errOut bytes.Buffer
	code := runIndex([]string{"verify", "--path", path, "--mode", "full"}, &out, &errOut)
	assert.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "ok")
}

func TestIndexVerifyRejectsBadMode(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, runIndex([]string{"verify", "--path", "x.db", "--mode", "deep"}, &out, &errOut))
}

func TestCheckpointDump(t *testing.T) {
	dir := t.TempDir()
	store, err := checkpoint.NewStore(dir)
	require.NoError(t, err)
	hour := time.Date(2024, 3, 9, 14, 0, 0, 0, time.Local)
	require.NoError(t, store.Save(checkpoint.FromTime(3, hour)))

	var out, errOut bytes.Buffer
	code := runCheckpoint([]string{"dump", "--dir", dir, "--cameras", "8"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "2024-03-09 14:00")
}

func TestCheckpointDumpEmpty(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runCheckpoint([]string{"dump", "--dir", t.TempDir()}, &out, &errOut)
	require.Equal(t, 0, code)
	assert.Contains(t, out.String(), "no checkpoints")
}

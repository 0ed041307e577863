// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"gopkg.in/yaml.v3"
)

// Loader merges defaults, an optional YAML file and NVR_* environment overrides.
type Loader struct {
	configPath string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader for the given file path. An empty path means ENV only.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath, lookupEnv: os.LookupEnv}
}

// WithEnv replaces the environment lookup (tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// Path returns the configured file path.
func (l *Loader) Path() string { return l.configPath }

// Load builds a validated snapshot.
// Precedence: defaults < file < environment.
func (l *Loader) Load() (Snapshot, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	mergeEnv(&cfg, envReader{lookup: l.lookupEnv, logger: xglog.WithComponent("config")})
	applyDerived(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes YAML with strict parsing on top of cfg.
// Unknown fields cause an error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *Snapshot) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// applyDerived fills values that depend on other fields.
func applyDerived(cfg *Snapshot) {
	if cfg.Index.Path == "" && cfg.DataDir != "" {
		cfg.Index.Path = filepath.Join(cfg.DataDir, "index.db")
	}
	if cfg.Events.JournalDir == "" && cfg.DataDir != "" {
		cfg.Events.JournalDir = filepath.Join(cfg.DataDir, "events")
	}
	if len(cfg.Storage.Groups) == 0 && len(cfg.Storage.Volumes) > 0 {
		g := GroupConfig{Name: "default"}
		for i := range cfg.Storage.Volumes {
			g.Volumes = append(g.Volumes, i)
		}
		for c := 1; c <= cfg.Cameras; c++ {
			g.Cameras = append(g.Cameras, c)
		}
		cfg.Storage.Groups = []GroupConfig{g}
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the nvrd configuration from YAML and NVR_* environment
// variables, validates it, and hands out read-only snapshots through Holder.
//
// Precedence is defaults, then the YAML file (strict, unknown keys rejected),
// then environment overrides.
package config

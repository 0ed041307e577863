// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cleanup

import "errors"

var (
	// ErrNoBackupTarget is returned when the configured backup target has no root or client.
	ErrNoBackupTarget = errors.New("backup target not configured")
)

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import "errors"

var (
	ErrUnknownCamera = errors.New("unknown camera")
	ErrUnknownType   = errors.New("unknown record type")
	ErrStopped       = errors.New("recorder stopped")
)

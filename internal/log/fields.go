// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldJobID     = "job_id"
	FieldRequestID = "request_id"
	FieldJobKind   = "job_kind"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Storage fields
	FieldCamera     = "camera"
	FieldVolume     = "volume"
	FieldDrive      = "drive"
	FieldMountPoint = "mount_point"
	FieldMedia      = "media"
	FieldFreeBytes  = "free_bytes"
	FieldTotalBytes = "total_bytes"

	// Recording fields
	FieldRecordType = "record_type"
	FieldStream     = "stream"
	FieldReason     = "reason"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath = "path"
)

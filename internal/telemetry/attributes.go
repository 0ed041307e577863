// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on nvrd spans.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	StorageVolumeKey = "storage.volume"
	StorageDriveKey  = "storage.drive"
	StorageMountKey  = "storage.mount_point"
	StorageMaskKey   = "storage.volume_mask"

	CleanupModeKey    = "cleanup.mode"
	CleanupTargetKey  = "cleanup.target_bytes"
	CleanupFreedKey   = "cleanup.freed_bytes"
	CleanupFoldersKey = "cleanup.folders"

	JobKindKey   = "job.kind"
	JobStatusKey = "job.status"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// VolumeAttributes describes the volume a job acts on. Empty values are omitted.
func VolumeAttributes(volume, drive, mount string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if volume != "" {
		attrs = append(attrs, attribute.String(StorageVolumeKey, volume))
	}
	if drive != "" {
		attrs = append(attrs, attribute.String(StorageDriveKey, drive))
	}
	if mount != "" {
		attrs = append(attrs, attribute.String(StorageMountKey, mount))
	}
	return attrs
}

// CleanupAttributes describes a cleanup run.
func CleanupAttributes(mode string, mask uint32, target, freed uint64, folders int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CleanupModeKey, mode),
		attribute.Int64(StorageMaskKey, int64(mask)),
		attribute.Int64(CleanupTargetKey, int64(target)),
		attribute.Int64(CleanupFreedKey, int64(freed)),
		attribute.Int(CleanupFoldersKey, folders),
	}
}

// JobAttributes describes a job span.
func JobAttributes(kind, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobKindKey, kind),
		attribute.String(JobStatusKey, status),
	}
}

// ErrorAttributes marks a span as failed with a type.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

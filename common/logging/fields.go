package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldTenantID  = "tenant_id"
	FieldJobID     = "job_id"
	FieldRunID     = "run_id"
	FieldProvider  = "provider"
	FieldResource  = "resource"
	FieldStatus    = "status"
	FieldAttempt   = "attempt"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldCacheKey  = "cache_key"
	FieldTool      = "tool"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute naming the emitting component.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// TenantID returns a slog attribute for the tenant identifier.
func TenantID(id string) slog.Attr {
	return slog.String(FieldTenantID, id)
}

// JobID returns a slog attribute for an ingestion job ID.
func JobID(id string) slog.Attr {
	return slog.String(FieldJobID, id)
}

// RunID returns a slog attribute for an intel run ID.
func RunID(id string) slog.Attr {
	return slog.String(FieldRunID, id)
}

// Provider returns a slog attribute for the upstream data provider.
func Provider(name string) slog.Attr {
	return slog.String(FieldProvider, name)
}

// Resource returns a slog attribute for the ingestion resource.
func Resource(name string) slog.Attr {
	return slog.String(FieldResource, name)
}

// Status returns a slog attribute for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// CacheKey returns a slog attribute for a response cache key.
func CacheKey(key string) slog.Attr {
	return slog.String(FieldCacheKey, key)
}

// Tool returns a slog attribute for an intel tool name.
func Tool(name string) slog.Attr {
	return slog.String(FieldTool, name)
}

package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so request-scoped identifiers (tenant, session,
// turn, trace) are included in every log statement without threading them explicitly.
type LogFields struct {
	TenantID  *string // Tenant identifier (X-Tenant-Id)
	SessionID *int64  // Reasoning session ID
	TurnID    *int64  // Reasoning turn ID
	TraceID   *string // Caller-supplied or generated trace ID (X-Trace-Id)
	Component string  // Component name (e.g., "reasoning.graph", "graphtools")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'next'.
func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.TenantID != nil {
		result.TenantID = next.TenantID
	}
	if next.SessionID != nil {
		result.SessionID = next.SessionID
	}
	if next.TurnID != nil {
		result.TurnID = next.TurnID
	}
	if next.TraceID != nil {
		result.TraceID = next.TraceID
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{SessionID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
// Useful for logging potentially long strings like prompts or query text.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

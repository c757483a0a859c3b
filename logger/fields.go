package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldRequestID = "request_id"

	// Components
	FieldComponent = "component"
	FieldProvider  = "provider"

	// Pipeline
	FieldMode     = "mode"
	FieldStage    = "stage"
	FieldGate     = "gate"
	FieldProgress = "progress"
	FieldAttempt  = "attempt"

	// Operations
	FieldMethod = "method"
	FieldPath   = "path"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount = "count"
	FieldSize  = "size"

	// Status
	FieldStatus = "status"

	// Media
	FieldFile     = "file"
	FieldDuration = "duration_s"

	// Network
	FieldAddress = "address"
	FieldPort    = "port"

	FieldSymbol = "symbol" // glyph (꩜, ✿, ❀, ▶, ◈, ⊔)
)

// Context keys for propagating logging context
type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	requestIDKey contextKey = "logger_request_id"
	stageKey     contextKey = "logger_stage"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithStage adds the running pipeline step to the context
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// JobIDFromContext returns the job ID set by WithJobID, if any.
func JobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey).(string)
	return id
}

// StageFromContext returns the stage set by WithStage, if any.
func StageFromContext(ctx context.Context) string {
	stage, _ := ctx.Value(stageKey).(string)
	return stage
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if stage, ok := ctx.Value(stageKey).(string); ok && stage != "" {
		fields = append(fields, FieldStage, stage)
	}

	return fields
}

// FromContext returns l with fields extracted from ctx (job_id, request_id).
func FromContext(ctx context.Context, l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		l = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
//	pool := async.NewWorkerPool(registry, cfg, logger.ComponentLogger("pulse.worker"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

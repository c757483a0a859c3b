// Package errors provides error handling for reel.
//
// It re-exports github.com/cockroachdb/errors (stack traces, wrapping,
// hints and details) and defines the sentinel errors that classify
// highlight pipeline failures.
//
//	if err := toolkit.Probe(ctx, path); err != nil {
//	    return errors.Wrap(err, "probe source")
//	}
//
//	if errors.Is(err, errors.ErrTransientProvider) {
//	    // retry
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Generic sentinel errors.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// Pipeline sentinel errors. Every job failure wraps exactly one of these
// (or is a plain StageError).
var (
	// ErrTransientProvider marks a provider failure worth retrying
	// (network errors, 429, 5xx). The only retried kind.
	ErrTransientProvider = New("transient provider error")

	// ErrUnreadableMedia indicates the media toolkit could not parse a container
	ErrUnreadableMedia = New("unreadable media")

	// ErrNoClipsMatched indicates selection produced an empty clip list
	ErrNoClipsMatched = New("no clips matched")

	// ErrInvalidConfirmationState indicates a confirmation for a gate that is not open
	ErrInvalidConfirmationState = New("invalid confirmation state")

	// ErrCancelled indicates the job was cancelled by a caller
	ErrCancelled = New("cancelled")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && Is(err, ErrTransientProvider)
}

// MarkTransient tags err as transient while keeping its message.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrTransientProvider)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrOracleUnavailable indicates the advisory reviewer could not produce a
// verdict: timeout, unreachable, or unparsable response. The caller may retry
// the whole checkpoint; a verdict is never fabricated from a failed call.
var ErrOracleUnavailable = errors.New("reviewer oracle unavailable")

// ErrExecutionBlocked indicates a pre-execution check was denied because the
// implementation item still has outstanding blockers or its session has an
// unresolved holistic review.
var ErrExecutionBlocked = errors.New("execution blocked")

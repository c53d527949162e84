package domain

import "errors"

// Sentinel errors shared across the engine. Invalid transitions and guard
// rejections are NOT errors; they are returned as lifecycle results so the
// API layer can map them to a 4xx without special-casing.
var (
	// ErrNotFound means the requested case/alert/subject/transaction
	// does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput means the caller supplied unusable input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStaleState means a conditional state update matched zero rows:
	// the state the caller assumed as "from" no longer holds. Exactly one
	// of two racing transition attempts sees this.
	ErrStaleState = errors.New("stale state")

	// ErrStorageUnavailable means an audit or data-store write failed and
	// the enclosing operation must not be considered committed.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrAlertLinked means the alert already belongs to a case.
	ErrAlertLinked = errors.New("alert already linked to a case")
)

package database

import "errors"

// Sentinel errors for the ingestion data layer. "Already exists" is never
// an error anywhere in this package; duplicate creation is resolved
// internally and callers only ever see the canonical record.
var (
	// ErrNotFound is returned when a referenced sender, folder or
	// relationship is missing on an update path.
	ErrNotFound = errors.New("record not found")

	// ErrForbidden is returned when a folder does not belong to the
	// acting user.
	ErrForbidden = errors.New("forbidden")
)

package store

import "errors"

// Error taxonomy returned by the store. Callers branch with errors.Is; the
// wrapped message carries the detail.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrState      = errors.New("invalid state")
)

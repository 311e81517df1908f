package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Registry errors
	ErrDuplicateModule = errors.New("module already registered with different capabilities")
	ErrUnknownModule   = errors.New("module not registered")

	// Distributor errors
	ErrUnknownTask       = errors.New("task not found or not assigned")
	ErrInvalidTask       = errors.New("task requires at least one capability tag")
	ErrTaskNotCancelable = errors.New("task already assigned — module must complete or fail it")

	// Storage errors
	ErrStoreUnavailable = errors.New("persistent store unavailable")
)

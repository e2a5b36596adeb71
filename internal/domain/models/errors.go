package models

import "errors"

var (
	// ErrInvalidRule is returned when thresholds would violate the rule invariant.
	ErrInvalidRule = errors.New("invalid alert rule")
	// ErrNotFound is returned for operations on an absent rule.
	ErrNotFound = errors.New("alert rule not found")
	// ErrTransientFetch wraps price source and notification I/O failures.
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrConcurrentModification is returned when a write loses a race.
	ErrConcurrentModification = errors.New("concurrent modification")
)

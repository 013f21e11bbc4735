// Package engine holds the rollup registry and the lifecycle manager that
// drives rollups through deployment, start, stop and deletion.
package engine

import "errors"

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned for operations on an unknown rollup id.
	ErrNotFound = errors.New("rollup not found")

	// ErrDuplicateID is returned when inserting a rollup id that exists.
	ErrDuplicateID = errors.New("rollup id already exists")

	// ErrInvalidState is returned when a lifecycle operation's precondition
	// does not hold, e.g. starting a rollup that is already running.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrMissingSecret is returned when a required environment secret is not
	// set. This is a configuration error; the operation is not retried.
	ErrMissingSecret = errors.New("required secret not set")
)

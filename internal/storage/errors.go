package storage

import "errors"

// Storage errors shared by all ledger store implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIllegalTransition is returned when a status change is not allowed
	// from the record's current status.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrStaleBlock is returned when an event block is at or behind the
	// asset cursor it would advance.
	ErrStaleBlock = errors.New("stale block")
)

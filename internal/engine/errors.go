package engine

import "errors"

// Error kinds surfaced by every engine operation. OS failures are
// wrapped in place with %w and carry none of these sentinels; callers
// classify them as IO by exclusion.
var (
	// ErrNotFound means the key is absent, or a non-create open named
	// a missing path.
	ErrNotFound = errors.New("skiplog: not found")

	// ErrExists is returned by Create when the key is already present.
	ErrExists = errors.New("skiplog: already exists")

	// ErrLocked means the handle (or another handle on the same path)
	// already has a transaction in flight.
	ErrLocked = errors.New("skiplog: database locked")

	// ErrAgain is a transient condition; the contract reserves it but
	// this engine does not produce it.
	ErrAgain = errors.New("skiplog: try again")

	// ErrInternal means an on-disk invariant was violated: a CRC
	// mismatch, out-of-order keys or broken pointer linkage. It is also
	// returned when an operation is handed a stale or foreign
	// transaction.
	ErrInternal = errors.New("skiplog: internal error")
)

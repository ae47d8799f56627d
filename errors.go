package pagevault

import "errors"

// Sentinel errors surfaced by the page lifecycle and transaction tracker,
// matching the error kinds the core is specified to raise.
var (
	// ErrIoError marks a Device read/write failure. It is returned
	// wrapped together with the Device's own error text
	// (fmt.Errorf("%w: %v", ErrIoError, err)), so callers check with
	// errors.Is against ErrIoError; the underlying Device error is kept
	// only as text and does not match errors.Is.
	ErrIoError = errors.New("device I/O failure")

	// ErrOutOfMemory is returned by a freelist that can neither satisfy
	// nor record a request and has no spill target to pass it on to.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrNotFound is returned by fetch_page when only_from_cache is set
	// and the page is not resident.
	ErrNotFound = errors.New("page not found in cache")

	// ErrAlreadyPresent is returned by Cache.Put on an address collision.
	ErrAlreadyPresent = errors.New("page already present in cache")

	// ErrInvalidState is returned by any operation on a terminal
	// transaction except Abort of an already-aborted one, which is a
	// no-op. FreePage and RemovePage also return it for a page the
	// transaction does not hold.
	ErrInvalidState = errors.New("transaction is not active")

	// ErrCorrupt is returned when an integrity check fails.
	ErrCorrupt = errors.New("integrity check failed")

	// ErrReadOnly is returned when a mutating operation is attempted
	// against a read-only environment or a read-only transaction.
	ErrReadOnly = errors.New("environment or transaction is read-only")

	// ErrClosed is returned by Environment.Close when the environment
	// has already been closed.
	ErrClosed = errors.New("database is closed")
)

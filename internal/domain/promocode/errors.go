package promocode

import "errors"

// Sentinel errors for the promocode store.
var (
	// ErrValidation marks bad input shape: empty code, non-positive uses,
	// malformed expiry or reward spec.
	ErrValidation = errors.New("promocode validation error")

	// ErrNotFound marks an unknown code.
	ErrNotFound = errors.New("promocode not found")

	// ErrConflict marks an attempt to create a code that already exists.
	ErrConflict = errors.New("promocode already exists")

	// ErrPermissionDenied marks a filesystem permission failure on the
	// backing file, its lock or the archive directory.
	ErrPermissionDenied = errors.New("promocode file permission denied")

	// ErrCorruptData marks a backing file that could not be parsed. The
	// store self-heals by quarantining the file; the error reports that the
	// previous contents were lost.
	ErrCorruptData = errors.New("promocode file corrupted")

	// ErrLockTimeout marks a failure to acquire the advisory file lock
	// within the configured budget. Retryable.
	ErrLockTimeout = errors.New("promocode file lock timeout")
)

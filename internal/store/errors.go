package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")

	// ErrNoMessageAvailable is returned by ClaimNext when no queued message
	// is eligible right now. Callers poll again after their interval.
	ErrNoMessageAvailable = errors.New("no message available")

	// ErrClaimConflict is returned when every claim attempt lost the
	// conditional update race. Transient; the next poll retries.
	ErrClaimConflict = errors.New("claim conflict")

	// ErrResultSealed is returned on writes against a sealed result row.
	ErrResultSealed = errors.New("result already sealed")
)

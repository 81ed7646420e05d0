package scan

import "errors"

var (
	// ErrInvalidRange covers end < start, start < 1, and ranges above the
	// configured maximum. Rejected before any computation starts.
	ErrInvalidRange = errors.New("invalid nonce range")

	// ErrMalformedTargets is returned for an empty target set or targets
	// that are NaN or infinite.
	ErrMalformedTargets = errors.New("malformed targets")

	// ErrCancelled reports cooperative termination via the caller's context.
	// It is distinct from validation errors: the inputs were fine, the
	// caller stopped waiting.
	ErrCancelled = errors.New("scan cancelled")
)

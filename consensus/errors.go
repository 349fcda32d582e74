package consensus

import "errors"

// Semantic error kinds surfaced by the consensus core. Callers match them
// with errors.Is; call sites attach context with pkg/errors Wrapf.
var (
	// ErrInvalidArgument covers starting in a term older than the recorded
	// one and unknown op types.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIllegalState covers wrong lifecycle state or wrong role for the
	// requested operation, and attempts to lower the current term.
	ErrIllegalState = errors.New("illegal state")

	// ErrAlreadyPresent is returned when registering a watcher for an op
	// that already reached the requested watermark.
	ErrAlreadyPresent = errors.New("already present")

	// ErrServiceUnavailable is returned for commit advances requested
	// while the replica is shutting down.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrAborted reports an operation aborted before it was applied.
	ErrAborted = errors.New("operation aborted")
)

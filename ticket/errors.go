package ticket

import "errors"

// Error kinds surfaced by the service. Every failure wraps exactly one of
// these so callers can classify with errors.Is.
var (
	// ErrBadArgument marks missing or malformed request input.
	ErrBadArgument = errors.New("bad argument")
	// ErrNotFound marks a ticket, state, transition or user that does not
	// exist or is deleted.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied marks a failed handle or view permission check.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrValidation marks a request that names a live ticket but violates
	// workflow rules: required fields missing, transition not in the
	// allowed set, workflow mismatch on a forced update.
	ErrValidation = errors.New("validation failed")
	// ErrResolution marks a participant spec that resolved to an empty or
	// unknown value.
	ErrResolution = errors.New("participant resolution failed")
	// ErrInvariant marks corrupted persisted state, such as a deferred
	// participant kind stored on a ticket.
	ErrInvariant = errors.New("invariant violation")
	// ErrUpstream marks a directory or catalog failure reported verbatim.
	ErrUpstream = errors.New("upstream failure")
)

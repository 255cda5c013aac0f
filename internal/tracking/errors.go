package tracking

import "errors"

var (
	// ErrIllegalTransition is returned when a category change would violate
	// the classification lattice (e.g. SAFE -> IDENTIFYING).
	ErrIllegalTransition = errors.New("illegal category transition")
	// ErrUnknownTab is recorded when an event references a tab with no session.
	ErrUnknownTab = errors.New("no session for tab")
	// ErrNoCorrespondingRequest is recorded when a response has no matching request.
	ErrNoCorrespondingRequest = errors.New("no corresponding request")
	// ErrStaleGeneration marks a continuation whose session was replaced.
	ErrStaleGeneration = errors.New("stale session generation")
)

package rebalance

import "errors"

// Sentinel errors for the rebalance protocol.
var (
	// ErrMissingContext means the user profile needed to build the revision
	// request could not be loaded.
	ErrMissingContext = errors.New("user context missing")

	// ErrGenerationUnavailable means the generation call timed out or failed
	// in transport. The active version is left untouched.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	// ErrMalformedRoadmap means the generated document failed structural
	// validation. A structurally invalid plan is never committed.
	ErrMalformedRoadmap = errors.New("generated roadmap is malformed")

	// ErrRebalanceInProgress means another attempt holds the user's
	// rebalance lock. The second caller fails fast instead of queueing.
	ErrRebalanceInProgress = errors.New("rebalance already in progress")
)

package model

import "github.com/rotisserie/eris"

// Error taxonomy shared by the core and its callers. Callers classify with
// errors.Is; the core wraps these with request context.
var (
	// ErrLocationNotFound means the location id has no LocationStats entry.
	ErrLocationNotFound = eris.New("location not found")
	// ErrInsufficientHistory means no monthly history was available.
	ErrInsufficientHistory = eris.New("insufficient history")
	// ErrInvalidProfile means the requester age or gender could not be used.
	ErrInvalidProfile = eris.New("invalid requester profile")
	// ErrInvalidRequest means a non-positive horizon, radius or top_n.
	ErrInvalidRequest = eris.New("invalid request")
	// ErrStoreUnavailable is transient; callers may retry.
	ErrStoreUnavailable = eris.New("store unavailable")
	// ErrInternalComputation guards numeric failures that validation should
	// already have excluded.
	ErrInternalComputation = eris.New("internal computation error")
)

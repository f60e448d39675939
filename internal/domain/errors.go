package domain

import "errors"

// Oracle errors. Each is terminal for the operation that returns it and leaves
// persisted state untouched; callers match them with errors.Is.
var (
	// ErrStaleData indicates the price sample is older than the allowed age.
	ErrStaleData = errors.New("stale price data")
	// ErrLowConfidence indicates the confidence interval is too wide relative to the price.
	ErrLowConfidence = errors.New("price confidence too low")
	// ErrInvalidReferencePrice indicates a negative reference price.
	ErrInvalidReferencePrice = errors.New("invalid reference price")
	// ErrOutOfBounds indicates the candidate falls outside the accepted band.
	ErrOutOfBounds = errors.New("candidate out of bounds")
	// ErrUpstreamUnavailable indicates the price feed could not be read or parsed.
	ErrUpstreamUnavailable = errors.New("price feed unavailable")
	// ErrNotFound indicates a missing ledger entry.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a mutating call without a valid grant.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotInitialized indicates the oracle state has not been created yet.
	ErrNotInitialized = errors.New("oracle state not initialized")
	// ErrAlreadyInitialized indicates the oracle state already exists.
	ErrAlreadyInitialized = errors.New("oracle state already initialized")
	// ErrClockRegression indicates an update stamped before the last accepted one.
	ErrClockRegression = errors.New("update time precedes last update")
	// ErrBusy indicates another writer holds the update lock.
	ErrBusy = errors.New("oracle state update in progress")
	// ErrInvalidRange indicates a query whose end precedes its start.
	ErrInvalidRange = errors.New("invalid time range")
)

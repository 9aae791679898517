package domain

import "errors"

// Error taxonomy shared across the service.
var (
	// ErrNotFound is returned when a newsletter record is not found.
	ErrNotFound = errors.New("newsletter not found")

	// ErrAlreadyExists is returned when a newsletter record already exists
	// for the requested short id. Duplicate creation is a no-op success at
	// the caller's level, not a failure.
	ErrAlreadyExists = errors.New("newsletter already exists")

	// ErrValidation is returned for missing or malformed request fields.
	// No side effects have occurred when this is returned.
	ErrValidation = errors.New("invalid request")

	// ErrUpstreamFetch is returned when a content-source or social-network
	// call fails. Propagated as-is; the task queue owns redelivery.
	ErrUpstreamFetch = errors.New("upstream fetch failed")

	// ErrNoContentImported is returned when zero posts imported successfully
	// during provisioning even though at least one was attempted. Triggers
	// compensation.
	ErrNoContentImported = errors.New("no posts were imported")

	// ErrPersistence is returned when a store write fails after external
	// side effects. Triggers compensation.
	ErrPersistence = errors.New("persistence failed")
)

package types

import "errors"

var (
	// ErrConfiguration marks an invalid rule, pattern, target or command definition
	ErrConfiguration = errors.New("configuration error")

	// ErrMalformedEventData marks a json capture group that could not be parsed
	ErrMalformedEventData = errors.New("malformed event data")

	// ErrSourceUnavailable marks a file that cannot be opened or a process that cannot be spawned
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSinkWrite marks a failed write to a target
	ErrSinkWrite = errors.New("sink write failure")
)

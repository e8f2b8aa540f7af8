package reindex

import "errors"

var (
	// ErrSourceRequired is returned when no record source is given.
	ErrSourceRequired = errors.New("record source is required")

	// ErrIndexRequired is returned when no index is given.
	ErrIndexRequired = errors.New("index is required")
)

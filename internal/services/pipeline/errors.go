package pipeline

import (
	"errors"
)

var (
	// ErrStorageUnavailable is returned when the backing store cannot be
	// reached; the caller owns the retry
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUnknownProvider is returned when no adapter is registered for the
	// raw scrape's source
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrAmbiguousMatch is returned when two or more companies match with
	// equally high similarity; the cleaned record is held for review
	ErrAmbiguousMatch = errors.New("ambiguous company match")
)

package domain

import "errors"

var (
	// ErrNotFound is returned when the requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnknownGrid is returned for a grid name nobody registered
	ErrUnknownGrid = errors.New("unknown grid")

	// ErrUnknownFilter is returned when setting a filter the grid does not bind
	ErrUnknownFilter = errors.New("unknown filter")

	// ErrInvalidInput wraps validation failures
	ErrInvalidInput = errors.New("invalid input")
)

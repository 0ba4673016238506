package database

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidIndex is returned when a face slot index is out of range.
	ErrInvalidIndex = errors.New("face index out of range")
	// ErrInvalidField is returned for a field outside the analysis field set.
	ErrInvalidField = errors.New("invalid image field")
	// ErrRootAlbum is returned when an operation is not allowed on the root album.
	ErrRootAlbum = errors.New("operation not allowed on root album")
	// ErrConflict is returned when a unique value is already taken.
	ErrConflict = errors.New("already exists")
)

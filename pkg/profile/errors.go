package profile

import "errors"

var (
	// ErrValidation indicates bad caller input: an empty name, a duplicate
	// id, or a restore colliding with a live profile.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an unknown profile, folder or trash id.
	ErrNotFound = errors.New("not found")
)

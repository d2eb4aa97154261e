package storage

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when an insert collides with a unique
	// constraint, e.g. re-registering an existing agent_id.
	ErrDuplicate = errors.New("storage: duplicate")
)

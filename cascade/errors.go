package cascade

import "errors"

var (
	// ErrUnresolvableCycle is returned when two mutually referencing new
	// instances must both be inserted but the foreign-key column that could
	// break the cycle is non-nullable. Fatal for the plan; never retried.
	ErrUnresolvableCycle = errors.New("unresolvable relation cycle")

	// ErrInvalidGraph is returned when a relation property holds a value of
	// the wrong shape (a to-one relation holding a slice, and so on)
	ErrInvalidGraph = errors.New("invalid entity graph")

	// ErrMissingKey is returned when removing or updating an instance that
	// has no primary key value
	ErrMissingKey = errors.New("instance has no primary key")

	// ErrDepthExceeded is returned when cascade traversal exceeds the
	// configured depth limit
	ErrDepthExceeded = errors.New("cascade depth limit exceeded")

	// ErrNoDeleteMarker is returned when soft-removing an entity that
	// declares no delete-marker column
	ErrNoDeleteMarker = errors.New("entity has no delete-marker column")
)

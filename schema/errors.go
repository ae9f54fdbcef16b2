package schema

import "errors"

// Schema errors are fatal at startup: a broken entity graph must never
// silently produce wrong SQL, so none of these are retried or downgraded.
var (
	// ErrSchemaConflict is returned when an entity name is re-registered with a different shape
	ErrSchemaConflict = errors.New("entity already registered with a different shape")

	// ErrRegistryFrozen is returned when Register is called after Finalize
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrUnknownEntity is returned when resolving an entity name that was never registered
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrAmbiguousOwnership is returned when a bidirectional relation does not
	// resolve to exactly one owning side
	ErrAmbiguousOwnership = errors.New("ambiguous relation ownership")

	// ErrInvalidDescriptor is returned when an entity descriptor is malformed
	// (no primary key, duplicate column, unknown relation kind)
	ErrInvalidDescriptor = errors.New("invalid entity descriptor")
)

// IsSchemaConflict returns true if the error is ErrSchemaConflict
func IsSchemaConflict(err error) bool {
	return errors.Is(err, ErrSchemaConflict)
}

// IsUnknownEntity returns true if the error is ErrUnknownEntity
func IsUnknownEntity(err error) bool {
	return errors.Is(err, ErrUnknownEntity)
}

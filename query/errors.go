package query

import "errors"

var (
	// ErrUnknownRelation is returned when a join path does not resolve
	// against the schema registry
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrUnknownField is returned when a predicate, selection, or assignment
	// references a field the entity does not declare
	ErrUnknownField = errors.New("unknown field")

	// ErrDuplicateAlias is returned when two aliases in one statement collide
	ErrDuplicateAlias = errors.New("duplicate alias")

	// ErrMalformedQuery is returned when builder calls do not form a valid
	// statement (missing root, values without insert, and so on)
	ErrMalformedQuery = errors.New("malformed query")
)

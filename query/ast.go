package query

import "github.com/keystone-orm/keystone/schema"

// Op is the statement kind of an AST
type Op int

const (
	OpSelect Op = iota
	OpInsert
	OpUpdate
	OpDelete
)

// Projection selects how a compiled select labels its output columns
type Projection int

const (
	// ProjectionEntity leaves labeling to the compiler's internal plan; the
	// result mapper reconstructs entity graphs from positional columns
	ProjectionEntity Projection = iota
	// ProjectionRaw labels every output column as <alias>_<column> and the
	// rows pass through as flat key-value maps
	ProjectionRaw
)

// JoinKind distinguishes inner from outer joins
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
)

// String returns the SQL join keyword
func (k JoinKind) String() string {
	if k == LeftJoin {
		return "LEFT JOIN"
	}
	return "INNER JOIN"
}

// ColumnRef names a column of an aliased entity occurrence
type ColumnRef struct {
	Alias  string
	Column string
}

// Ordering is one ORDER BY term
type Ordering struct {
	Alias      string
	Column     string
	Descending bool
}

// Assignment is one SET term of an update
type Assignment struct {
	Column string
	Value  interface{}
}

// Join is one resolved join of a select. Relation back-references are carried
// by name and re-resolved against the registry, never by pointer into another
// AST, so the tree itself stays acyclic even over a cyclic relation graph.
type Join struct {
	Kind JoinKind
	// Path is the relation path from the root ("posts", "posts.comments")
	Path string
	// Alias is caller-chosen or derived from Path; unique per statement
	Alias string
	// ParentAlias is the alias the relation hangs off
	ParentAlias string
	// ParentEntity and RelationName identify the relation in the registry
	ParentEntity string
	RelationName string
	Extra        *PredicateGroup
}

// AST is the immutable statement tree handed to the compiler. Builders
// produce it via Build; the compiler never mutates it, so the same AST can be
// compiled repeatedly with byte-identical output.
type AST struct {
	Op         Op
	Entity     string
	Alias      string
	Projection Projection

	// Selections is the explicit projection; empty means every column of the
	// root (and, in entity mode, of each joined entity)
	Selections []ColumnRef
	Joins      []Join
	Where      *PredicateGroup
	OrderBys   []Ordering
	GroupBys   []ColumnRef
	Limit      *int
	Offset     *int

	// insert
	InsertColumns []string
	InsertValues  []interface{}
	Returning     []string

	// update
	Assignments []Assignment

	// WithDeleted disables the implicit soft-delete filter
	WithDeleted bool
}

// RootEntity resolves the root entity's metadata
func (a *AST) RootEntity(reg *schema.Registry) (*schema.EntityMetadata, error) {
	return reg.Resolve(a.Entity)
}

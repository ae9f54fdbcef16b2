// Package schema holds entity metadata for the Keystone ORM engine: column
// and relation descriptions, the process-wide registry, and relation
// resolution. Metadata is built once at startup and frozen before use.
package schema

import (
	"github.com/go-openapi/inflect"
)

// ColumnType represents the scalar type of a column
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeText
	TypeInt
	TypeBigInt
	TypeFloat
	TypeBool
	TypeTimestamp
	TypeUUID
	TypeJSON
)

// String returns the string representation of the column type
func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// RelationKind represents the cardinality and direction of a relation
type RelationKind int

const (
	OneToMany RelationKind = iota
	ManyToOne
	ManyToManyOwning
	ManyToManyInverse
)

// String returns the string representation of the relation kind
func (k RelationKind) String() string {
	switch k {
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToManyOwning:
		return "many-to-many"
	case ManyToManyInverse:
		return "many-to-many-inverse"
	default:
		return "unknown"
	}
}

// ToOne reports whether the relation resolves to a single related instance
func (k RelationKind) ToOne() bool {
	return k == ManyToOne
}

// CascadeSet is the set of operations a relation propagates to its target
type CascadeSet uint8

const (
	CascadeInsert CascadeSet = 1 << iota
	CascadeUpdate
	CascadeRemove
	CascadeSoftRemove
	CascadeRecover
)

// Has reports whether the set includes the given operation
func (c CascadeSet) Has(op CascadeSet) bool {
	return c&op != 0
}

// DeleteAction is the constraint-level action taken when a referenced row is deleted
type DeleteAction int

const (
	Restrict DeleteAction = iota
	Cascade
	SetNull
	NoAction
)

// String returns the SQL representation of the delete action
func (a DeleteAction) String() string {
	switch a {
	case Restrict:
		return "RESTRICT"
	case Cascade:
		return "CASCADE"
	case SetNull:
		return "SET NULL"
	case NoAction:
		return "NO ACTION"
	default:
		return "RESTRICT"
	}
}

// ColumnMetadata describes one scalar column of an entity
type ColumnMetadata struct {
	// Name is the property name used in records and query predicates
	Name string
	// StorageName is the column name in the underlying table; defaults to Name
	StorageName string
	Type        ColumnType
	Nullable    bool
	Unique      bool
	Primary     bool
	// DeleteMarker marks the soft-delete timestamp column
	DeleteMarker bool
}

// RelationMetadata describes one declared relation of an entity
type RelationMetadata struct {
	// Name is the property name holding the related record(s)
	Name   string
	Kind   RelationKind
	Target string
	// JoinColumn is the explicit foreign-key column; derived when empty
	JoinColumn string
	// ReferencedColumn defaults to the target's primary key
	ReferencedColumn string
	// Inverse names the corresponding relation property on the target, if any
	Inverse string
	// Owning marks the side whose table stores the foreign key (or, for
	// many-to-many, the side that manages the junction table)
	Owning bool
	// JunctionTable is the explicit junction table for many-to-many relations
	JunctionTable string
	Cascade       CascadeSet
	OnDelete      DeleteAction

	// resolved is populated by Registry.Finalize
	resolved *ResolvedRelation
}

// Resolved returns the resolution computed at registry finalization.
// It is nil before Finalize has run.
func (r *RelationMetadata) Resolved() *ResolvedRelation {
	return r.resolved
}

// EntityMetadata is the immutable description of one registered entity
type EntityMetadata struct {
	Name  string
	Table string

	Columns   []*ColumnMetadata
	Relations []*RelationMetadata

	PrimaryKey *ColumnMetadata

	// SoftDeleteColumn is the property name of the delete-marker column, or ""
	SoftDeleteColumn string

	columnsByName   map[string]*ColumnMetadata
	relationsByName map[string]*RelationMetadata
}

// Column looks up a column by property name
func (e *EntityMetadata) Column(name string) (*ColumnMetadata, bool) {
	c, ok := e.columnsByName[name]
	return c, ok
}

// Relation looks up a relation by property name
func (e *EntityMetadata) Relation(name string) (*RelationMetadata, bool) {
	r, ok := e.relationsByName[name]
	return r, ok
}

// ColumnNames returns the property names of all columns in declaration order
func (e *EntityMetadata) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = c.Name
	}
	return names
}

// tableName derives a table name from an entity name (User -> users)
func tableName(entityName string) string {
	return inflect.Tableize(entityName)
}

// lowerCamel lowercases the first rune of an entity name (User -> user)
func lowerCamel(name string) string {
	if name == "" {
		return name
	}
	return inflect.CamelizeDownFirst(name)
}

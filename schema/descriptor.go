package schema

import (
	"fmt"
)

// EntityDescriptor is the caller-built declaration of one entity. It replaces
// annotation-driven metadata collection: callers construct a descriptor
// explicitly and hand it to Registry.Register, which validates it and builds
// the immutable EntityMetadata.
type EntityDescriptor struct {
	Name      string
	Table     string
	Columns   []ColumnDescriptor
	Relations []RelationDescriptor
}

// ColumnDescriptor declares one scalar column
type ColumnDescriptor struct {
	Name         string
	StorageName  string
	Type         ColumnType
	Nullable     bool
	Unique       bool
	Primary      bool
	DeleteMarker bool
}

// RelationDescriptor declares one relation
type RelationDescriptor struct {
	Name             string
	Kind             RelationKind
	Target           string
	JoinColumn       string
	ReferencedColumn string
	Inverse          string
	JunctionTable    string
	Cascade          CascadeSet
	OnDelete         DeleteAction
}

// NewEntity starts a fluent descriptor for the named entity
func NewEntity(name string) *EntityDescriptor {
	return &EntityDescriptor{Name: name}
}

// WithTable overrides the derived table name
func (d *EntityDescriptor) WithTable(table string) *EntityDescriptor {
	d.Table = table
	return d
}

// Column appends a scalar column
func (d *EntityDescriptor) Column(name string, typ ColumnType, opts ...ColumnOption) *EntityDescriptor {
	col := ColumnDescriptor{Name: name, Type: typ}
	for _, opt := range opts {
		opt(&col)
	}
	d.Columns = append(d.Columns, col)
	return d
}

// Relation appends a relation
func (d *EntityDescriptor) Relation(rel RelationDescriptor) *EntityDescriptor {
	d.Relations = append(d.Relations, rel)
	return d
}

// OneToMany appends an inverse-side collection relation to the named target
func (d *EntityDescriptor) OneToMany(name, target string, opts ...RelationOption) *EntityDescriptor {
	return d.relation(name, OneToMany, target, opts)
}

// ManyToOne appends an owning-side single-reference relation to the named target
func (d *EntityDescriptor) ManyToOne(name, target string, opts ...RelationOption) *EntityDescriptor {
	return d.relation(name, ManyToOne, target, opts)
}

// ManyToMany appends the owning side of a many-to-many relation
func (d *EntityDescriptor) ManyToMany(name, target string, opts ...RelationOption) *EntityDescriptor {
	return d.relation(name, ManyToManyOwning, target, opts)
}

// ManyToManyInverse appends the inverse side of a many-to-many relation
func (d *EntityDescriptor) ManyToManyInverse(name, target string, opts ...RelationOption) *EntityDescriptor {
	return d.relation(name, ManyToManyInverse, target, opts)
}

func (d *EntityDescriptor) relation(name string, kind RelationKind, target string, opts []RelationOption) *EntityDescriptor {
	rel := RelationDescriptor{Name: name, Kind: kind, Target: target}
	for _, opt := range opts {
		opt(&rel)
	}
	d.Relations = append(d.Relations, rel)
	return d
}

// ColumnOption configures one column descriptor
type ColumnOption func(*ColumnDescriptor)

// PrimaryKey marks the column as the primary key
func PrimaryKey() ColumnOption {
	return func(c *ColumnDescriptor) { c.Primary = true }
}

// Nullable marks the column as nullable
func Nullable() ColumnOption {
	return func(c *ColumnDescriptor) { c.Nullable = true }
}

// Unique marks the column as unique
func Unique() ColumnOption {
	return func(c *ColumnDescriptor) { c.Unique = true }
}

// StoredAs overrides the storage column name
func StoredAs(name string) ColumnOption {
	return func(c *ColumnDescriptor) { c.StorageName = name }
}

// DeleteMarker marks the column as the entity's soft-delete timestamp.
// The column must be a nullable timestamp.
func DeleteMarker() ColumnOption {
	return func(c *ColumnDescriptor) {
		c.DeleteMarker = true
		c.Nullable = true
		c.Type = TypeTimestamp
	}
}

// RelationOption configures one relation descriptor
type RelationOption func(*RelationDescriptor)

// WithCascade sets the relation's cascade policy
func WithCascade(ops CascadeSet) RelationOption {
	return func(r *RelationDescriptor) { r.Cascade = ops }
}

// WithJoinColumn sets an explicit foreign-key column name
func WithJoinColumn(column string) RelationOption {
	return func(r *RelationDescriptor) { r.JoinColumn = column }
}

// WithReferencedColumn overrides the referenced column (default: target primary key)
func WithReferencedColumn(column string) RelationOption {
	return func(r *RelationDescriptor) { r.ReferencedColumn = column }
}

// WithInverse names the corresponding relation property on the target entity
func WithInverse(name string) RelationOption {
	return func(r *RelationDescriptor) { r.Inverse = name }
}

// WithJunctionTable sets an explicit junction table for many-to-many relations
func WithJunctionTable(table string) RelationOption {
	return func(r *RelationDescriptor) { r.JunctionTable = table }
}

// OnDelete sets the constraint-level delete action
func OnDelete(action DeleteAction) RelationOption {
	return func(r *RelationDescriptor) { r.OnDelete = action }
}

// build validates the descriptor and produces immutable metadata
func (d *EntityDescriptor) build() (*EntityMetadata, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("%w: entity name is required", ErrInvalidDescriptor)
	}
	if len(d.Columns) == 0 {
		return nil, fmt.Errorf("%w: entity %s declares no columns", ErrInvalidDescriptor, d.Name)
	}

	meta := &EntityMetadata{
		Name:            d.Name,
		Table:           d.Table,
		columnsByName:   make(map[string]*ColumnMetadata, len(d.Columns)),
		relationsByName: make(map[string]*RelationMetadata, len(d.Relations)),
	}
	if meta.Table == "" {
		meta.Table = tableName(d.Name)
	}

	for _, cd := range d.Columns {
		if cd.Name == "" {
			return nil, fmt.Errorf("%w: entity %s has an unnamed column", ErrInvalidDescriptor, d.Name)
		}
		if _, dup := meta.columnsByName[cd.Name]; dup {
			return nil, fmt.Errorf("%w: entity %s declares column %s twice", ErrInvalidDescriptor, d.Name, cd.Name)
		}
		col := &ColumnMetadata{
			Name:         cd.Name,
			StorageName:  cd.StorageName,
			Type:         cd.Type,
			Nullable:     cd.Nullable,
			Unique:       cd.Unique,
			Primary:      cd.Primary,
			DeleteMarker: cd.DeleteMarker,
		}
		if col.StorageName == "" {
			col.StorageName = col.Name
		}
		if col.Primary {
			if meta.PrimaryKey != nil {
				return nil, fmt.Errorf("%w: entity %s declares multiple primary keys", ErrInvalidDescriptor, d.Name)
			}
			meta.PrimaryKey = col
		}
		if col.DeleteMarker {
			if meta.SoftDeleteColumn != "" {
				return nil, fmt.Errorf("%w: entity %s declares multiple delete markers", ErrInvalidDescriptor, d.Name)
			}
			meta.SoftDeleteColumn = col.Name
		}
		meta.Columns = append(meta.Columns, col)
		meta.columnsByName[col.Name] = col
	}

	if meta.PrimaryKey == nil {
		return nil, fmt.Errorf("%w: entity %s has no primary key", ErrInvalidDescriptor, d.Name)
	}

	for _, rd := range d.Relations {
		if rd.Name == "" || rd.Target == "" {
			return nil, fmt.Errorf("%w: entity %s has a relation without name or target", ErrInvalidDescriptor, d.Name)
		}
		if _, dup := meta.relationsByName[rd.Name]; dup {
			return nil, fmt.Errorf("%w: entity %s declares relation %s twice", ErrInvalidDescriptor, d.Name, rd.Name)
		}
		if _, clash := meta.columnsByName[rd.Name]; clash {
			return nil, fmt.Errorf("%w: entity %s declares %s as both column and relation", ErrInvalidDescriptor, d.Name, rd.Name)
		}
		rel := &RelationMetadata{
			Name:             rd.Name,
			Kind:             rd.Kind,
			Target:           rd.Target,
			JoinColumn:       rd.JoinColumn,
			ReferencedColumn: rd.ReferencedColumn,
			Inverse:          rd.Inverse,
			JunctionTable:    rd.JunctionTable,
			Cascade:          rd.Cascade,
			OnDelete:         rd.OnDelete,
			Owning:           rd.Kind == ManyToOne || rd.Kind == ManyToManyOwning,
		}
		meta.Relations = append(meta.Relations, rel)
		meta.relationsByName[rel.Name] = rel
	}

	return meta, nil
}

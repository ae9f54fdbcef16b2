package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ResolvedRelation is the outcome of resolving one declared relation against
// both sides' metadata: which column carries the foreign key, which column it
// references, and which side owns the key.
type ResolvedRelation struct {
	Owner  *EntityMetadata
	Target *EntityMetadata

	// ForeignKeyColumn is the property name of the column storing the key.
	// For an owning to-one relation it lives on the owner; for a one-to-many
	// inverse it lives on the target.
	ForeignKeyColumn string
	// ReferencedColumn is the property name of the column the key points at
	ReferencedColumn string
	// OwningSide reports whether the declaring side stores the key
	OwningSide bool
	// InverseRelation is the corresponding relation on the target, if declared
	InverseRelation *RelationMetadata

	// Junction fields are set for many-to-many relations only
	JunctionTable        string
	JunctionOwnerColumn  string
	JunctionTargetColumn string
}

// ToMany reports whether the resolved relation attaches a collection property
func (r *ResolvedRelation) ToMany(kind RelationKind) bool {
	return kind != ManyToOne
}

// resolveRelation computes join keys and ownership for one relation. Both
// sides' metadata must already be registered; failure here is fatal at
// startup so a broken relation graph never produces wrong SQL.
func resolveRelation(owner *EntityMetadata, rel *RelationMetadata, target *EntityMetadata) (*ResolvedRelation, error) {
	resolved := &ResolvedRelation{Owner: owner, Target: target}

	if rel.Inverse != "" {
		inv, ok := target.Relation(rel.Inverse)
		if !ok {
			return nil, fmt.Errorf("%w: relation %s.%s names inverse %s.%s which does not exist",
				ErrInvalidDescriptor, owner.Name, rel.Name, target.Name, rel.Inverse)
		}
		resolved.InverseRelation = inv
	}

	resolved.ReferencedColumn = rel.ReferencedColumn
	if resolved.ReferencedColumn == "" {
		resolved.ReferencedColumn = target.PrimaryKey.Name
	}

	switch rel.Kind {
	case ManyToOne:
		// key lives on the owner and points at the target
		resolved.OwningSide = true
		resolved.ForeignKeyColumn = rel.JoinColumn
		if resolved.ForeignKeyColumn == "" {
			resolved.ForeignKeyColumn = rel.Name + "Id"
		}
		if inv := resolved.InverseRelation; inv != nil && inv.Kind == ManyToOne {
			return nil, fmt.Errorf("%w: %s.%s and %s.%s are both to-one",
				ErrAmbiguousOwnership, owner.Name, rel.Name, target.Name, inv.Name)
		}
		if _, ok := owner.Column(resolved.ForeignKeyColumn); !ok {
			return nil, fmt.Errorf("%w: %s declares relation %s but no foreign-key column %s",
				ErrInvalidDescriptor, owner.Name, rel.Name, resolved.ForeignKeyColumn)
		}
		if _, ok := target.Column(resolved.ReferencedColumn); !ok {
			return nil, fmt.Errorf("%w: relation %s.%s references missing column %s.%s",
				ErrInvalidDescriptor, owner.Name, rel.Name, target.Name, resolved.ReferencedColumn)
		}

	case OneToMany:
		// key lives on the target side, named after this entity
		resolved.OwningSide = false
		resolved.ReferencedColumn = owner.PrimaryKey.Name
		if rel.ReferencedColumn != "" {
			resolved.ReferencedColumn = rel.ReferencedColumn
		}
		resolved.ForeignKeyColumn = rel.JoinColumn
		if resolved.ForeignKeyColumn == "" {
			if inv := resolved.InverseRelation; inv != nil && inv.JoinColumn != "" {
				resolved.ForeignKeyColumn = inv.JoinColumn
			} else if inv != nil {
				resolved.ForeignKeyColumn = inv.Name + "Id"
			} else {
				resolved.ForeignKeyColumn = lowerCamel(owner.Name) + "Id"
			}
		}
		if _, ok := target.Column(resolved.ForeignKeyColumn); !ok {
			return nil, fmt.Errorf("%w: %s misses foreign-key column %s required by relation %s.%s",
				ErrInvalidDescriptor, target.Name, resolved.ForeignKeyColumn, owner.Name, rel.Name)
		}
		if _, ok := owner.Column(resolved.ReferencedColumn); !ok {
			return nil, fmt.Errorf("%w: relation %s.%s references missing column %s.%s",
				ErrInvalidDescriptor, owner.Name, rel.Name, owner.Name, resolved.ReferencedColumn)
		}

	case ManyToManyOwning, ManyToManyInverse:
		if inv := resolved.InverseRelation; inv != nil {
			ownerOwns := rel.Kind == ManyToManyOwning
			targetOwns := inv.Kind == ManyToManyOwning
			if ownerOwns == targetOwns {
				return nil, fmt.Errorf("%w: %s.%s and %s.%s must declare exactly one owning side",
					ErrAmbiguousOwnership, owner.Name, rel.Name, target.Name, inv.Name)
			}
		}
		resolved.OwningSide = rel.Kind == ManyToManyOwning
		resolved.JunctionTable = rel.JunctionTable
		if resolved.JunctionTable == "" {
			if inv := resolved.InverseRelation; inv != nil && inv.JunctionTable != "" {
				resolved.JunctionTable = inv.JunctionTable
			} else {
				resolved.JunctionTable = junctionTable(owner.Name, target.Name)
			}
		}
		resolved.JunctionOwnerColumn = lowerCamel(owner.Name) + "Id"
		resolved.JunctionTargetColumn = lowerCamel(target.Name) + "Id"
		if owner.Name == target.Name {
			// self-referencing junction needs distinct key columns
			resolved.JunctionOwnerColumn += "_1"
			resolved.JunctionTargetColumn += "_2"
		}
		resolved.ReferencedColumn = target.PrimaryKey.Name

	default:
		return nil, fmt.Errorf("%w: relation %s.%s has unknown kind", ErrInvalidDescriptor, owner.Name, rel.Name)
	}

	return resolved, nil
}

// junctionTable synthesizes a deterministic junction table name from the two
// entity names, sorted so both sides derive the same table.
func junctionTable(a, b string) string {
	names := []string{lowerCamel(a), lowerCamel(b)}
	sort.Strings(names)
	return strings.Join(names, "_")
}

package query

import (
	"fmt"
	"strings"

	"github.com/keystone-orm/keystone/schema"
)

// Direction is an ORDER BY direction
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Builder assembles an AST through fluent calls. Each call mutates the
// receiver and returns it; Build snapshots the accumulated state into an
// immutable AST. The first error encountered is remembered and surfaced by
// Build: unknown relations and fields fail at build time, never at execution.
type Builder struct {
	registry *schema.Registry
	ast      AST

	// aliases maps every alias in the statement to its entity name
	aliases map[string]string
	err     error
}

// NewBuilder creates a builder bound to a frozen registry
func NewBuilder(registry *schema.Registry) *Builder {
	return &Builder{
		registry: registry,
		aliases:  make(map[string]string),
	}
}

// From sets the root entity of a select. An empty alias derives one from the
// entity name (User -> user).
func (b *Builder) From(entity, alias string) *Builder {
	meta, err := b.registry.Resolve(entity)
	if err != nil {
		return b.fail(err)
	}
	if alias == "" {
		alias = defaultAlias(meta.Name)
	}
	b.ast.Op = OpSelect
	b.ast.Entity = entity
	b.ast.Alias = alias
	b.addAlias(alias, entity)
	return b
}

// Select restricts the projection to the given columns. Columns may be
// qualified ("post.title") or unqualified, in which case they belong to the
// root alias.
func (b *Builder) Select(columns ...string) *Builder {
	for _, col := range columns {
		ref := b.parseColumn(col)
		b.ast.Selections = append(b.ast.Selections, ref)
	}
	return b
}

// Raw switches the statement to raw projection mode
func (b *Builder) Raw() *Builder {
	b.ast.Projection = ProjectionRaw
	return b
}

// IncludeDeleted disables the implicit soft-delete filter
func (b *Builder) IncludeDeleted() *Builder {
	b.ast.WithDeleted = true
	return b
}

// Where replaces nothing: like AndWhere it appends a condition combined with
// AND, matching an append-only builder contract.
func (b *Builder) Where(field string, op Operator, value interface{}) *Builder {
	return b.addCondition(field, op, value, false)
}

// AndWhere appends a condition combined with AND
func (b *Builder) AndWhere(field string, op Operator, value interface{}) *Builder {
	return b.addCondition(field, op, value, false)
}

// OrWhere appends a condition combined with OR
func (b *Builder) OrWhere(field string, op Operator, value interface{}) *Builder {
	return b.addCondition(field, op, value, true)
}

// WhereGroup appends a parenthesized predicate group
func (b *Builder) WhereGroup(group *PredicateGroup) *Builder {
	if b.ast.Where == nil {
		b.ast.Where = NewPredicateGroup(false)
	}
	b.ast.Where.AddGroup(group)
	return b
}

func (b *Builder) addCondition(field string, op Operator, value interface{}, or bool) *Builder {
	ref := b.parseColumn(field)
	if b.ast.Where == nil {
		b.ast.Where = NewPredicateGroup(false)
	}
	b.ast.Where.AddCondition(&Condition{
		Alias:    ref.Alias,
		Field:    ref.Column,
		Operator: op,
		Value:    value,
		Or:       or,
	})
	return b
}

// Join adds an inner join along the given relation path. The path is
// relative to the root: "posts" joins a relation of the root entity,
// "posts.comments" joins a relation of the entity already joined at "posts".
// An empty alias derives one from the path ("posts.comments" ->
// "posts_comments"), which keeps alias assignment a deterministic function of
// the path.
func (b *Builder) Join(path, alias string) *Builder {
	return b.join(path, alias, InnerJoin, nil)
}

// InnerJoin is an explicit alias for Join
func (b *Builder) InnerJoin(path, alias string) *Builder {
	return b.join(path, alias, InnerJoin, nil)
}

// LeftJoin adds an outer join along the given relation path
func (b *Builder) LeftJoin(path, alias string) *Builder {
	return b.join(path, alias, LeftJoin, nil)
}

// JoinOn and LeftJoinOn add a join with an extra predicate ANDed onto the
// join condition. Values inside the group are bound as parameters.
func (b *Builder) JoinOn(path, alias string, extra *PredicateGroup) *Builder {
	return b.join(path, alias, InnerJoin, extra)
}

// LeftJoinOn adds an outer join with an extra predicate
func (b *Builder) LeftJoinOn(path, alias string, extra *PredicateGroup) *Builder {
	return b.join(path, alias, LeftJoin, extra)
}

func (b *Builder) join(path, alias string, kind JoinKind, extra *PredicateGroup) *Builder {
	if b.err != nil {
		return b
	}
	if b.ast.Entity == "" {
		return b.fail(fmt.Errorf("%w: join before from", ErrMalformedQuery))
	}

	parentAlias := b.ast.Alias
	parentEntity := b.ast.Entity
	relName := path
	if i := strings.LastIndex(path, "."); i >= 0 {
		prefix := path[:i]
		relName = path[i+1:]
		parent, ok := b.joinByPath(prefix)
		if !ok {
			return b.fail(fmt.Errorf("%w: join path %q has no joined prefix %q", ErrUnknownRelation, path, prefix))
		}
		parentAlias = parent.Alias
		parentMeta, err := b.registry.Resolve(parent.ParentEntity)
		if err != nil {
			return b.fail(err)
		}
		parentRel, _ := parentMeta.Relation(parent.RelationName)
		parentEntity = parentRel.Target
	}

	parentMeta, err := b.registry.Resolve(parentEntity)
	if err != nil {
		return b.fail(err)
	}
	rel, ok := parentMeta.Relation(relName)
	if !ok {
		return b.fail(fmt.Errorf("%w: %s has no relation %q", ErrUnknownRelation, parentEntity, relName))
	}

	if alias == "" {
		alias = strings.ReplaceAll(path, ".", "_")
	}
	b.ast.Joins = append(b.ast.Joins, Join{
		Kind:         kind,
		Path:         path,
		Alias:        alias,
		ParentAlias:  parentAlias,
		ParentEntity: parentEntity,
		RelationName: rel.Name,
		Extra:        extra,
	})
	b.addAlias(alias, rel.Target)
	return b
}

func (b *Builder) joinByPath(path string) (*Join, bool) {
	for i := range b.ast.Joins {
		if b.ast.Joins[i].Path == path {
			return &b.ast.Joins[i], true
		}
	}
	return nil, false
}

// OrderBy appends one ORDER BY term
func (b *Builder) OrderBy(column string, dir Direction) *Builder {
	ref := b.parseColumn(column)
	b.ast.OrderBys = append(b.ast.OrderBys, Ordering{
		Alias:      ref.Alias,
		Column:     ref.Column,
		Descending: dir == Desc,
	})
	return b
}

// GroupBy appends GROUP BY terms
func (b *Builder) GroupBy(columns ...string) *Builder {
	for _, col := range columns {
		b.ast.GroupBys = append(b.ast.GroupBys, b.parseColumn(col))
	}
	return b
}

// Limit caps the number of returned rows
func (b *Builder) Limit(n int) *Builder {
	b.ast.Limit = &n
	return b
}

// Offset skips the first n rows
func (b *Builder) Offset(n int) *Builder {
	b.ast.Offset = &n
	return b
}

// InsertInto starts an insert statement for the named entity
func (b *Builder) InsertInto(entity string) *Builder {
	meta, err := b.registry.Resolve(entity)
	if err != nil {
		return b.fail(err)
	}
	b.ast.Op = OpInsert
	b.ast.Entity = entity
	b.ast.Alias = defaultAlias(meta.Name)
	b.addAlias(b.ast.Alias, entity)
	return b
}

// Values sets the inserted columns. Columns are emitted in the entity's
// declaration order regardless of map iteration, so compilation stays
// deterministic.
func (b *Builder) Values(values map[string]interface{}) *Builder {
	if b.err != nil {
		return b
	}
	if b.ast.Op != OpInsert {
		return b.fail(fmt.Errorf("%w: values without insert", ErrMalformedQuery))
	}
	meta, err := b.registry.Resolve(b.ast.Entity)
	if err != nil {
		return b.fail(err)
	}
	seen := 0
	for _, col := range meta.Columns {
		if v, ok := values[col.Name]; ok {
			b.ast.InsertColumns = append(b.ast.InsertColumns, col.Name)
			b.ast.InsertValues = append(b.ast.InsertValues, v)
			seen++
		}
	}
	if seen != len(values) {
		for name := range values {
			if _, ok := meta.Column(name); !ok {
				return b.fail(fmt.Errorf("%w: %s has no column %q", ErrUnknownField, meta.Name, name))
			}
		}
	}
	return b
}

// Returning asks the insert to return the given columns
func (b *Builder) Returning(columns ...string) *Builder {
	b.ast.Returning = append(b.ast.Returning, columns...)
	return b
}

// Update starts an update statement for the named entity
func (b *Builder) Update(entity string) *Builder {
	meta, err := b.registry.Resolve(entity)
	if err != nil {
		return b.fail(err)
	}
	b.ast.Op = OpUpdate
	b.ast.Entity = entity
	b.ast.Alias = defaultAlias(meta.Name)
	b.addAlias(b.ast.Alias, entity)
	return b
}

// Set appends one SET assignment; the value is bound as a parameter
func (b *Builder) Set(field string, value interface{}) *Builder {
	if b.err != nil {
		return b
	}
	if b.ast.Op != OpUpdate {
		return b.fail(fmt.Errorf("%w: set without update", ErrMalformedQuery))
	}
	b.ast.Assignments = append(b.ast.Assignments, Assignment{Column: field, Value: value})
	return b
}

// Delete starts a delete statement for the named entity
func (b *Builder) Delete(entity string) *Builder {
	meta, err := b.registry.Resolve(entity)
	if err != nil {
		return b.fail(err)
	}
	b.ast.Op = OpDelete
	b.ast.Entity = entity
	b.ast.Alias = defaultAlias(meta.Name)
	b.addAlias(b.ast.Alias, entity)
	return b
}

// Build validates the accumulated state and returns an immutable AST
func (b *Builder) Build() (*AST, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.ast.Entity == "" {
		return nil, fmt.Errorf("%w: no root entity", ErrMalformedQuery)
	}
	if err := b.validateFields(); err != nil {
		return nil, err
	}

	out := b.ast
	out.Selections = append([]ColumnRef(nil), b.ast.Selections...)
	out.Joins = append([]Join(nil), b.ast.Joins...)
	out.OrderBys = append([]Ordering(nil), b.ast.OrderBys...)
	out.GroupBys = append([]ColumnRef(nil), b.ast.GroupBys...)
	out.InsertColumns = append([]string(nil), b.ast.InsertColumns...)
	out.InsertValues = append([]interface{}(nil), b.ast.InsertValues...)
	out.Returning = append([]string(nil), b.ast.Returning...)
	out.Assignments = append([]Assignment(nil), b.ast.Assignments...)
	return &out, nil
}

// validateFields resolves every referenced alias and field against the
// registry so malformed queries fail before compilation.
func (b *Builder) validateFields() error {
	check := func(ref ColumnRef) error {
		alias := ref.Alias
		if alias == "" {
			alias = b.ast.Alias
		}
		entity, ok := b.aliases[alias]
		if !ok {
			return fmt.Errorf("%w: alias %q is not part of this statement", ErrMalformedQuery, alias)
		}
		meta, err := b.registry.Resolve(entity)
		if err != nil {
			return err
		}
		if _, ok := meta.Column(ref.Column); !ok {
			return fmt.Errorf("%w: %s has no column %q", ErrUnknownField, entity, ref.Column)
		}
		return nil
	}

	for _, ref := range b.ast.Selections {
		if err := check(ref); err != nil {
			return err
		}
	}
	for _, ord := range b.ast.OrderBys {
		if err := check(ColumnRef{Alias: ord.Alias, Column: ord.Column}); err != nil {
			return err
		}
	}
	for _, ref := range b.ast.GroupBys {
		if err := check(ref); err != nil {
			return err
		}
	}
	for _, a := range b.ast.Assignments {
		if err := check(ColumnRef{Column: a.Column}); err != nil {
			return err
		}
	}
	return b.validateGroup(b.ast.Where, check)
}

func (b *Builder) validateGroup(pg *PredicateGroup, check func(ColumnRef) error) error {
	if pg == nil {
		return nil
	}
	for _, c := range pg.Conditions {
		if err := check(ColumnRef{Alias: c.Alias, Column: c.Field}); err != nil {
			return err
		}
	}
	for _, g := range pg.Groups {
		if err := b.validateGroup(g, check); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) addAlias(alias, entity string) {
	if b.err != nil {
		return
	}
	if _, exists := b.aliases[alias]; exists {
		b.err = fmt.Errorf("%w: %q", ErrDuplicateAlias, alias)
		return
	}
	b.aliases[alias] = entity
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// parseColumn splits an optionally qualified column reference
func (b *Builder) parseColumn(s string) ColumnRef {
	if i := strings.Index(s, "."); i >= 0 {
		return ColumnRef{Alias: s[:i], Column: s[i+1:]}
	}
	return ColumnRef{Column: s}
}

func defaultAlias(entityName string) string {
	if entityName == "" {
		return entityName
	}
	return strings.ToLower(entityName[:1]) + entityName[1:]
}

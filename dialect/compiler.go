package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/keystone-orm/keystone/query"
	"github.com/keystone-orm/keystone/schema"
)

// ProjectedColumn describes one output column of a compiled select, in
// emission order. Label is set only in raw projection mode; in entity mode the
// (Alias, Column) pair is the hint the result mapper navigates by.
type ProjectedColumn struct {
	Alias  string
	Column string
	Label  string
}

// Statement is compiled SQL plus its positional parameters
type Statement struct {
	SQL        string
	Args       []interface{}
	Projection []ProjectedColumn
}

// Compiler lowers ASTs for one dialect against one frozen registry
type Compiler struct {
	dialect  Dialect
	registry *schema.Registry
}

// NewCompiler creates a compiler for the given dialect and registry
func NewCompiler(d Dialect, registry *schema.Registry) *Compiler {
	return &Compiler{dialect: d, registry: registry}
}

// Dialect returns the compiler's dialect
func (c *Compiler) Dialect() Dialect {
	return c.dialect
}

// Compile lowers the AST into parameterized SQL. The AST is never mutated.
func (c *Compiler) Compile(ast *query.AST) (*Statement, error) {
	switch ast.Op {
	case query.OpSelect:
		return c.compileSelect(ast)
	case query.OpInsert:
		return c.compileInsert(ast)
	case query.OpUpdate:
		return c.compileUpdate(ast)
	case query.OpDelete:
		return c.compileDelete(ast)
	default:
		return nil, fmt.Errorf("%w: unknown statement kind", ErrInvalidAST)
	}
}

// writer accumulates SQL text and positional args together so placeholder
// numbering always matches emission order
type writer struct {
	sb      strings.Builder
	args    []interface{}
	dialect Dialect
}

func (w *writer) raw(s string) {
	w.sb.WriteString(s)
}

func (w *writer) param(v interface{}) {
	w.args = append(w.args, v)
	w.sb.WriteString(w.dialect.Placeholder(len(w.args)))
}

// aliasScope resolves statement aliases to entity metadata and renders
// qualified, dialect-quoted column references
type aliasScope struct {
	dialect  Dialect
	entities map[string]*schema.EntityMetadata
}

func newAliasScope(d Dialect) *aliasScope {
	return &aliasScope{dialect: d, entities: make(map[string]*schema.EntityMetadata)}
}

func (s *aliasScope) add(alias string, meta *schema.EntityMetadata) {
	s.entities[alias] = meta
}

func (s *aliasScope) storage(alias, field string) (string, error) {
	meta, ok := s.entities[alias]
	if !ok {
		return "", fmt.Errorf("%w: alias %q", ErrInvalidAST, alias)
	}
	col, ok := meta.Column(field)
	if !ok {
		return "", fmt.Errorf("%w: %s has no column %q", ErrInvalidAST, meta.Name, field)
	}
	return s.dialect.QuoteIdentifier(alias) + "." + s.dialect.QuoteIdentifier(col.StorageName), nil
}

func (c *Compiler) compileSelect(ast *query.AST) (*Statement, error) {
	root, err := ast.RootEntity(c.registry)
	if err != nil {
		return nil, err
	}

	scope := newAliasScope(c.dialect)
	scope.add(ast.Alias, root)
	type resolvedJoin struct {
		join     query.Join
		relation *schema.RelationMetadata
		resolved *schema.ResolvedRelation
		target   *schema.EntityMetadata
	}
	joins := make([]resolvedJoin, 0, len(ast.Joins))
	for _, j := range ast.Joins {
		parent, err := c.registry.Resolve(j.ParentEntity)
		if err != nil {
			return nil, err
		}
		rel, ok := parent.Relation(j.RelationName)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no relation %q", ErrInvalidAST, parent.Name, j.RelationName)
		}
		resolved := rel.Resolved()
		if resolved == nil {
			return nil, fmt.Errorf("%w: registry not finalized", ErrInvalidAST)
		}
		joins = append(joins, resolvedJoin{join: j, relation: rel, resolved: resolved, target: resolved.Target})
		scope.add(j.Alias, resolved.Target)
	}

	projection, err := c.projection(ast, root, scope)
	if err != nil {
		return nil, err
	}

	w := &writer{dialect: c.dialect}
	w.raw("SELECT ")
	for i, p := range projection {
		if i > 0 {
			w.raw(", ")
		}
		qualified, err := scope.storage(p.Alias, p.Column)
		if err != nil {
			return nil, err
		}
		w.raw(qualified)
		if p.Label != "" {
			w.raw(" AS " + p.Label)
		}
	}
	w.raw(" FROM " + c.dialect.QuoteIdentifier(root.Table) + " " + c.dialect.QuoteIdentifier(ast.Alias))

	for _, rj := range joins {
		if err := c.emitJoin(w, scope, rj.join, rj.relation, rj.resolved); err != nil {
			return nil, err
		}
	}

	qualify := scope.storage
	if err := c.emitWhere(w, ast, root, ast.Alias, qualify, true); err != nil {
		return nil, err
	}

	if len(ast.GroupBys) > 0 {
		w.raw(" GROUP BY ")
		for i, g := range ast.GroupBys {
			if i > 0 {
				w.raw(", ")
			}
			alias := g.Alias
			if alias == "" {
				alias = ast.Alias
			}
			qualified, err := qualify(alias, g.Column)
			if err != nil {
				return nil, err
			}
			w.raw(qualified)
		}
	}

	if len(ast.OrderBys) > 0 {
		w.raw(" ORDER BY ")
		for i, o := range ast.OrderBys {
			if i > 0 {
				w.raw(", ")
			}
			alias := o.Alias
			if alias == "" {
				alias = ast.Alias
			}
			qualified, err := qualify(alias, o.Column)
			if err != nil {
				return nil, err
			}
			w.raw(qualified)
			if o.Descending {
				w.raw(" DESC")
			} else {
				w.raw(" ASC")
			}
		}
	}

	if ast.Limit != nil {
		w.raw(" LIMIT " + strconv.Itoa(*ast.Limit))
	}
	if ast.Offset != nil {
		w.raw(" OFFSET " + strconv.Itoa(*ast.Offset))
	}

	return &Statement{SQL: w.sb.String(), Args: w.args, Projection: projection}, nil
}

// projection computes the output columns: the explicit selections if any,
// otherwise every column of the root and (in entity mode or unrestricted raw
// mode) of each joined entity, in declaration order.
func (c *Compiler) projection(ast *query.AST, root *schema.EntityMetadata, scope *aliasScope) ([]ProjectedColumn, error) {
	raw := ast.Projection == query.ProjectionRaw

	label := func(alias, column string) string {
		if !raw {
			return ""
		}
		return alias + "_" + column
	}

	if len(ast.Selections) > 0 {
		out := make([]ProjectedColumn, 0, len(ast.Selections))
		for _, sel := range ast.Selections {
			alias := sel.Alias
			if alias == "" {
				alias = ast.Alias
			}
			out = append(out, ProjectedColumn{Alias: alias, Column: sel.Column, Label: label(alias, sel.Column)})
		}
		return out, nil
	}

	out := make([]ProjectedColumn, 0, len(root.Columns))
	for _, col := range root.Columns {
		out = append(out, ProjectedColumn{Alias: ast.Alias, Column: col.Name, Label: label(ast.Alias, col.Name)})
	}
	for _, j := range ast.Joins {
		target := scope.entities[j.Alias]
		for _, col := range target.Columns {
			out = append(out, ProjectedColumn{Alias: j.Alias, Column: col.Name, Label: label(j.Alias, col.Name)})
		}
	}
	return out, nil
}

func (c *Compiler) emitJoin(w *writer, scope *aliasScope, j query.Join, rel *schema.RelationMetadata, resolved *schema.ResolvedRelation) error {
	target := resolved.Target
	kind := j.Kind.String()
	quote := c.dialect.QuoteIdentifier
	targetRef := quote(target.Table) + " " + quote(j.Alias)

	switch rel.Kind {
	case schema.ManyToOne:
		// key lives on the parent side
		fk, err := scope.storage(j.ParentAlias, resolved.ForeignKeyColumn)
		if err != nil {
			return err
		}
		ref, err := scope.storage(j.Alias, resolved.ReferencedColumn)
		if err != nil {
			return err
		}
		w.raw(" " + kind + " " + targetRef + " ON " + ref + " = " + fk)

	case schema.OneToMany:
		// key lives on the joined side
		fk, err := scope.storage(j.Alias, resolved.ForeignKeyColumn)
		if err != nil {
			return err
		}
		ref, err := scope.storage(j.ParentAlias, resolved.ReferencedColumn)
		if err != nil {
			return err
		}
		w.raw(" " + kind + " " + targetRef + " ON " + fk + " = " + ref)

	case schema.ManyToManyOwning, schema.ManyToManyInverse:
		jt := quote(j.Alias + "_jt")
		parentPK, err := scope.storage(j.ParentAlias, resolved.Owner.PrimaryKey.Name)
		if err != nil {
			return err
		}
		targetPK, err := scope.storage(j.Alias, target.PrimaryKey.Name)
		if err != nil {
			return err
		}
		w.raw(" " + kind + " " + quote(resolved.JunctionTable) + " " + jt +
			" ON " + jt + "." + quote(resolved.JunctionOwnerColumn) + " = " + parentPK)
		w.raw(" " + kind + " " + targetRef +
			" ON " + targetPK + " = " + jt + "." + quote(resolved.JunctionTargetColumn))

	default:
		return fmt.Errorf("%w: relation kind %v", ErrInvalidAST, rel.Kind)
	}

	if !j.Extra.Empty() {
		w.raw(" AND (")
		if err := c.emitGroup(w, j.Extra, j.Alias, scope.storage); err != nil {
			return err
		}
		w.raw(")")
	}

	// joined soft-deletable entities are filtered in the join condition so a
	// left join still yields the parent row
	if target.SoftDeleteColumn != "" {
		marker, err := scope.storage(j.Alias, target.SoftDeleteColumn)
		if err != nil {
			return err
		}
		w.raw(" AND " + marker + " IS NULL")
	}
	return nil
}

type qualifier func(alias, field string) (string, error)

// emitWhere renders the WHERE clause, folding in the implicit soft-delete
// filter on the root entity for selects.
func (c *Compiler) emitWhere(w *writer, ast *query.AST, root *schema.EntityMetadata, rootAlias string, qualify qualifier, softFilter bool) error {
	marker := ""
	if softFilter && !ast.WithDeleted && root.SoftDeleteColumn != "" {
		m, err := qualify(rootAlias, root.SoftDeleteColumn)
		if err != nil {
			return err
		}
		marker = m
	}

	hasWhere := !ast.Where.Empty()
	if !hasWhere && marker == "" {
		return nil
	}

	w.raw(" WHERE ")
	if hasWhere && marker != "" {
		w.raw("(")
	}
	if hasWhere {
		if err := c.emitGroup(w, ast.Where, rootAlias, qualify); err != nil {
			return err
		}
	}
	if hasWhere && marker != "" {
		w.raw(")")
	}
	if marker != "" {
		if hasWhere {
			w.raw(" AND ")
		}
		w.raw(marker + " IS NULL")
	}
	return nil
}

// emitGroup renders a predicate group; every value becomes a bound parameter
func (c *Compiler) emitGroup(w *writer, pg *query.PredicateGroup, defaultAlias string, qualify qualifier) error {
	first := true
	connect := func(or bool) {
		if !first {
			if or {
				w.raw(" OR ")
			} else {
				w.raw(" AND ")
			}
		}
		first = false
	}

	for _, cond := range pg.Conditions {
		connect(cond.Or)
		if err := c.emitCondition(w, cond, defaultAlias, qualify); err != nil {
			return err
		}
	}
	for _, g := range pg.Groups {
		if g.Empty() {
			continue
		}
		connect(g.Or)
		w.raw("(")
		if err := c.emitGroup(w, g, defaultAlias, qualify); err != nil {
			return err
		}
		w.raw(")")
	}
	return nil
}

func (c *Compiler) emitCondition(w *writer, cond *query.Condition, defaultAlias string, qualify qualifier) error {
	alias := cond.Alias
	if alias == "" {
		alias = defaultAlias
	}
	col, err := qualify(alias, cond.Field)
	if err != nil {
		return err
	}

	switch cond.Operator {
	case query.OpIsNull, query.OpIsNotNull:
		w.raw(col + " " + cond.Operator.String())

	case query.OpIn, query.OpNotIn:
		values, ok := cond.Value.([]interface{})
		if !ok || len(values) == 0 {
			return fmt.Errorf("%w: %s requires a non-empty value list", ErrInvalidAST, cond.Operator)
		}
		w.raw(col + " " + cond.Operator.String() + " (")
		for i, v := range values {
			if i > 0 {
				w.raw(", ")
			}
			w.param(v)
		}
		w.raw(")")

	case query.OpBetween:
		values, ok := cond.Value.([]interface{})
		if !ok || len(values) != 2 {
			return fmt.Errorf("%w: BETWEEN requires exactly two values", ErrInvalidAST)
		}
		w.raw(col + " BETWEEN ")
		w.param(values[0])
		w.raw(" AND ")
		w.param(values[1])

	case query.OpILike:
		if c.dialect.SupportsILike() {
			w.raw(col + " ILIKE ")
			w.param(cond.Value)
		} else {
			w.raw("LOWER(" + col + ") LIKE LOWER(")
			w.param(cond.Value)
			w.raw(")")
		}

	default:
		w.raw(col + " " + cond.Operator.String() + " ")
		w.param(cond.Value)
	}
	return nil
}

func (c *Compiler) compileInsert(ast *query.AST) (*Statement, error) {
	meta, err := ast.RootEntity(c.registry)
	if err != nil {
		return nil, err
	}
	if len(ast.InsertColumns) == 0 {
		return nil, fmt.Errorf("%w: insert with no values", ErrInvalidAST)
	}
	if len(ast.Returning) > 0 && !c.dialect.SupportsReturning() {
		return nil, fmt.Errorf("%w: RETURNING is not supported by %s", ErrUnsupportedFeature, c.dialect.Name())
	}

	w := &writer{dialect: c.dialect}
	w.raw("INSERT INTO " + c.dialect.QuoteIdentifier(meta.Table) + " (")
	for i, name := range ast.InsertColumns {
		col, ok := meta.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no column %q", ErrInvalidAST, meta.Name, name)
		}
		if i > 0 {
			w.raw(", ")
		}
		w.raw(c.dialect.QuoteIdentifier(col.StorageName))
	}
	w.raw(") VALUES (")
	for i, v := range ast.InsertValues {
		if i > 0 {
			w.raw(", ")
		}
		w.param(v)
	}
	w.raw(")")

	if len(ast.Returning) > 0 {
		w.raw(" RETURNING ")
		for i, name := range ast.Returning {
			col, ok := meta.Column(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s has no column %q", ErrInvalidAST, meta.Name, name)
			}
			if i > 0 {
				w.raw(", ")
			}
			w.raw(c.dialect.QuoteIdentifier(col.StorageName))
		}
	}
	return &Statement{SQL: w.sb.String(), Args: w.args}, nil
}

func (c *Compiler) compileUpdate(ast *query.AST) (*Statement, error) {
	meta, err := ast.RootEntity(c.registry)
	if err != nil {
		return nil, err
	}
	if len(ast.Assignments) == 0 {
		return nil, fmt.Errorf("%w: update with no assignments", ErrInvalidAST)
	}

	// updates and deletes address a single table, so columns stay unqualified
	qualify := func(alias, field string) (string, error) {
		if alias != "" && alias != ast.Alias {
			return "", fmt.Errorf("%w: alias %q in single-table statement", ErrInvalidAST, alias)
		}
		col, ok := meta.Column(field)
		if !ok {
			return "", fmt.Errorf("%w: %s has no column %q", ErrInvalidAST, meta.Name, field)
		}
		return c.dialect.QuoteIdentifier(col.StorageName), nil
	}

	w := &writer{dialect: c.dialect}
	w.raw("UPDATE " + c.dialect.QuoteIdentifier(meta.Table) + " SET ")
	for i, a := range ast.Assignments {
		storage, err := qualify("", a.Column)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			w.raw(", ")
		}
		w.raw(storage + " = ")
		w.param(a.Value)
	}

	if err := c.emitWhere(w, ast, meta, ast.Alias, qualify, false); err != nil {
		return nil, err
	}
	return &Statement{SQL: w.sb.String(), Args: w.args}, nil
}

func (c *Compiler) compileDelete(ast *query.AST) (*Statement, error) {
	meta, err := ast.RootEntity(c.registry)
	if err != nil {
		return nil, err
	}

	qualify := func(alias, field string) (string, error) {
		if alias != "" && alias != ast.Alias {
			return "", fmt.Errorf("%w: alias %q in single-table statement", ErrInvalidAST, alias)
		}
		col, ok := meta.Column(field)
		if !ok {
			return "", fmt.Errorf("%w: %s has no column %q", ErrInvalidAST, meta.Name, field)
		}
		return c.dialect.QuoteIdentifier(col.StorageName), nil
	}

	w := &writer{dialect: c.dialect}
	w.raw("DELETE FROM " + c.dialect.QuoteIdentifier(meta.Table))
	if err := c.emitWhere(w, ast, meta, ast.Alias, qualify, false); err != nil {
		return nil, err
	}
	return &Statement{SQL: w.sb.String(), Args: w.args}, nil
}

// CompileCount lowers a select AST into a COUNT(*) statement, keeping its
// joins and predicates but dropping projection, ordering, and pagination.
func (c *Compiler) CompileCount(ast *query.AST) (*Statement, error) {
	if ast.Op != query.OpSelect {
		return nil, fmt.Errorf("%w: count requires a select", ErrInvalidAST)
	}
	root, err := ast.RootEntity(c.registry)
	if err != nil {
		return nil, err
	}

	scope := newAliasScope(c.dialect)
	scope.add(ast.Alias, root)
	w := &writer{dialect: c.dialect}
	w.raw("SELECT COUNT(*) FROM " + c.dialect.QuoteIdentifier(root.Table) + " " + c.dialect.QuoteIdentifier(ast.Alias))

	for _, j := range ast.Joins {
		parent, err := c.registry.Resolve(j.ParentEntity)
		if err != nil {
			return nil, err
		}
		rel, ok := parent.Relation(j.RelationName)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no relation %q", ErrInvalidAST, parent.Name, j.RelationName)
		}
		resolved := rel.Resolved()
		if resolved == nil {
			return nil, fmt.Errorf("%w: registry not finalized", ErrInvalidAST)
		}
		scope.add(j.Alias, resolved.Target)
		if err := c.emitJoin(w, scope, j, rel, resolved); err != nil {
			return nil, err
		}
	}

	if err := c.emitWhere(w, ast, root, ast.Alias, scope.storage, true); err != nil {
		return nil, err
	}
	return &Statement{SQL: w.sb.String(), Args: w.args}, nil
}

// JunctionInsert builds an insert into a many-to-many junction table, which
// has no entity metadata of its own.
func (c *Compiler) JunctionInsert(table string, columns []string, values []interface{}) *Statement {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = c.dialect.QuoteIdentifier(col)
	}
	w := &writer{dialect: c.dialect}
	w.raw("INSERT INTO " + c.dialect.QuoteIdentifier(table) + " (" + strings.Join(quoted, ", ") + ") VALUES (")
	for i, v := range values {
		if i > 0 {
			w.raw(", ")
		}
		w.param(v)
	}
	w.raw(")")
	return &Statement{SQL: w.sb.String(), Args: w.args}
}

// JunctionDelete builds a delete of every junction row keyed by one side
func (c *Compiler) JunctionDelete(table, column string, value interface{}) *Statement {
	w := &writer{dialect: c.dialect}
	w.raw("DELETE FROM " + c.dialect.QuoteIdentifier(table) + " WHERE " + c.dialect.QuoteIdentifier(column) + " = ")
	w.param(value)
	return &Statement{SQL: w.sb.String(), Args: w.args}
}

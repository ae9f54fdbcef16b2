package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/keystone-orm/keystone/query"
)

type findOptions struct {
	relations   []string
	withDeleted bool
	batchLoad   bool
	limit       *int
	offset      *int
	orderBys    []ordering
}

type ordering struct {
	column    string
	direction query.Direction
}

// FindOption tunes one find call
type FindOption func(*findOptions)

// Relations eagerly loads the given relation paths ("posts",
// "posts.comments"). By default they are fetched with left joins and
// reconstructed by the result mapper.
func Relations(paths ...string) FindOption {
	return func(o *findOptions) { o.relations = append(o.relations, paths...) }
}

// BatchLoad fetches each requested relation with its own IN query instead of
// joining, which avoids row fanout when several to-many relations are loaded
// together.
func BatchLoad() FindOption {
	return func(o *findOptions) { o.batchLoad = true }
}

// IncludeDeleted disables the implicit soft-delete filter
func IncludeDeleted() FindOption {
	return func(o *findOptions) { o.withDeleted = true }
}

// Limit caps the number of root rows. Combine with joins carefully: the cap
// applies to joined rows, not reconstructed roots.
func Limit(n int) FindOption {
	return func(o *findOptions) { o.limit = &n }
}

// Offset skips the first n rows
func Offset(n int) FindOption {
	return func(o *findOptions) { o.offset = &n }
}

// OrderBy appends an ordering term on a root column
func OrderBy(column string, dir query.Direction) FindOption {
	return func(o *findOptions) { o.orderBys = append(o.orderBys, ordering{column, dir}) }
}

// Find returns every entity matching the criteria. Criteria keys are root
// columns matched by equality (IS NULL for nil values, IN for slices); they
// are applied in sorted key order so the compiled SQL is deterministic.
func (s *Session) Find(ctx context.Context, entity string, criteria map[string]interface{}, opts ...FindOption) ([]map[string]interface{}, error) {
	var o findOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := s.Builder().From(entity, "")
	if applyCriteria(b, criteria) {
		// an empty value list can never match; skip the round-trip
		return nil, nil
	}

	if !o.batchLoad {
		for _, path := range o.relations {
			b.LeftJoin(path, "")
		}
	}
	if o.withDeleted {
		b.IncludeDeleted()
	}
	for _, ord := range o.orderBys {
		b.OrderBy(ord.column, ord.direction)
	}
	if o.limit != nil {
		b.Limit(*o.limit)
	}
	if o.offset != nil {
		b.Offset(*o.offset)
	}

	ast, err := b.Build()
	if err != nil {
		return nil, err
	}
	records, err := s.selectEntities(ctx, ast)
	if err != nil {
		return nil, err
	}

	if o.batchLoad && len(o.relations) > 0 && len(records) > 0 {
		if err := s.loadRelations(ctx, entity, records, o.relations, o.withDeleted); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// FindOne returns the first matching entity or ErrNotFound
func (s *Session) FindOne(ctx context.Context, entity string, criteria map[string]interface{}, opts ...FindOption) (map[string]interface{}, error) {
	records, err := s.Find(ctx, entity, criteria, opts...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entity)
	}
	return records[0], nil
}

// Count returns the number of matching rows
func (s *Session) Count(ctx context.Context, entity string, criteria map[string]interface{}, opts ...FindOption) (int64, error) {
	var o findOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := s.Builder().From(entity, "")
	if applyCriteria(b, criteria) {
		return 0, nil
	}
	if o.withDeleted {
		b.IncludeDeleted()
	}
	ast, err := b.Build()
	if err != nil {
		return 0, err
	}
	stmt, err := s.compiler.CompileCount(ast)
	if err != nil {
		return 0, err
	}

	rows, err := s.query(ctx, s.db, stmt)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, rows.Err()
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, ConvertDBError(err)
	}
	return n, rows.Err()
}

// selectEntities compiles and runs a select AST in entity mode
func (s *Session) selectEntities(ctx context.Context, ast *query.AST) ([]map[string]interface{}, error) {
	stmt, err := s.compiler.Compile(ast)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, s.db, stmt)
	if err != nil {
		return nil, err
	}
	values, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	return s.mapper.MapEntities(ast, stmt.Projection, values)
}

// applyCriteria appends equality predicates in sorted key order. It reports
// whether any criterion is an empty value list, which no row can satisfy.
func applyCriteria(b *query.Builder, criteria map[string]interface{}) bool {
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := criteria[k].(type) {
		case nil:
			b.Where(k, query.OpIsNull, nil)
		case []interface{}:
			if len(v) == 0 {
				return true
			}
			b.Where(k, query.OpIn, v)
		default:
			b.Where(k, query.OpEqual, v)
		}
	}
	return false
}

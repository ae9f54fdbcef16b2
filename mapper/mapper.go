// Package mapper converts raw result rows into entity graphs or flat
// key-value rows. Entity mode deduplicates by primary key so joined selects
// that fan out never produce duplicate parents; raw mode passes rows through
// under the compiler's generated labels.
package mapper

import (
	"errors"
	"fmt"

	"github.com/keystone-orm/keystone/dialect"
	"github.com/keystone-orm/keystone/query"
	"github.com/keystone-orm/keystone/schema"
)

// ErrResultShapeMismatch is returned when rows do not match the compiled
// projection (driver returned fewer columns, or a mapped alias is missing its
// primary key)
var ErrResultShapeMismatch = errors.New("result shape mismatch")

// Mapper reconstructs entities against a frozen registry
type Mapper struct {
	registry *schema.Registry
}

// New creates a mapper
func New(registry *schema.Registry) *Mapper {
	return &Mapper{registry: registry}
}

// aliasNode is one aliased entity occurrence of a select, in join order
type aliasNode struct {
	alias       string
	meta        *schema.EntityMetadata
	parentAlias string
	relName     string
	toMany      bool
}

// plan resolves the AST's alias tree against the registry
func (m *Mapper) plan(ast *query.AST) ([]aliasNode, error) {
	root, err := ast.RootEntity(m.registry)
	if err != nil {
		return nil, err
	}
	nodes := []aliasNode{{alias: ast.Alias, meta: root}}
	for _, j := range ast.Joins {
		parent, err := m.registry.Resolve(j.ParentEntity)
		if err != nil {
			return nil, err
		}
		rel, ok := parent.Relation(j.RelationName)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no relation %q", ErrResultShapeMismatch, parent.Name, j.RelationName)
		}
		resolved := rel.Resolved()
		if resolved == nil {
			return nil, fmt.Errorf("%w: registry not finalized", ErrResultShapeMismatch)
		}
		nodes = append(nodes, aliasNode{
			alias:       j.Alias,
			meta:        resolved.Target,
			parentAlias: j.ParentAlias,
			relName:     rel.Name,
			toMany:      !rel.Kind.ToOne(),
		})
	}
	return nodes, nil
}

// MapEntities groups rows by the root primary key and attaches related
// instances along the alias tree, deduplicating each by its own primary key.
// A null primary key on a left-joined alias means "no related row" and
// produces no placeholder.
func (m *Mapper) MapEntities(ast *query.AST, projection []dialect.ProjectedColumn, rows [][]interface{}) ([]map[string]interface{}, error) {
	nodes, err := m.plan(ast)
	if err != nil {
		return nil, err
	}

	// column positions per alias
	positions := make(map[string]map[string]int, len(nodes))
	for i, p := range projection {
		cols, ok := positions[p.Alias]
		if !ok {
			cols = make(map[string]int)
			positions[p.Alias] = cols
		}
		cols[p.Column] = i
	}

	// every mapped alias must project its primary key
	pkPos := make(map[string]int, len(nodes))
	for _, n := range nodes {
		pos, ok := positions[n.alias][n.meta.PrimaryKey.Name]
		if !ok {
			return nil, fmt.Errorf("%w: alias %q projects no primary key %s",
				ErrResultShapeMismatch, n.alias, n.meta.PrimaryKey.Name)
		}
		pkPos[n.alias] = pos
	}

	instances := make(map[string]map[string]map[string]interface{}, len(nodes))
	attached := make(map[string]bool)
	for _, n := range nodes {
		instances[n.alias] = make(map[string]map[string]interface{})
	}

	var results []map[string]interface{}

	for _, row := range rows {
		if len(row) != len(projection) {
			return nil, fmt.Errorf("%w: expected %d columns, got %d", ErrResultShapeMismatch, len(projection), len(row))
		}

		// the record each alias resolves to within this row
		current := make(map[string]map[string]interface{}, len(nodes))

		for i, n := range nodes {
			pk := row[pkPos[n.alias]]
			if pk == nil {
				continue
			}
			key := fmt.Sprintf("%v", pk)

			rec, ok := instances[n.alias][key]
			if !ok {
				rec = make(map[string]interface{}, len(n.meta.Columns))
				for col, pos := range positions[n.alias] {
					rec[col] = row[pos]
				}
				// collection properties start out as empty slices so declared
				// cardinality is visible even with no related rows
				for _, later := range nodes[i+1:] {
					if later.parentAlias == n.alias && later.toMany {
						rec[later.relName] = []map[string]interface{}{}
					}
				}
				instances[n.alias][key] = rec

				if n.parentAlias == "" {
					results = append(results, rec)
				}
			}
			current[n.alias] = rec

			if n.parentAlias == "" {
				continue
			}
			parent, ok := current[n.parentAlias]
			if !ok {
				// left-joined parent absent in this row; nothing to attach to
				continue
			}
			parentKey := fmt.Sprintf("%v", row[pkPos[n.parentAlias]])
			edge := n.parentAlias + "\x00" + parentKey + "\x00" + n.alias + "\x00" + key
			if attached[edge] {
				continue
			}
			attached[edge] = true

			if n.toMany {
				list, _ := parent[n.relName].([]map[string]interface{})
				parent[n.relName] = append(list, rec)
			} else {
				parent[n.relName] = rec
			}
		}
	}

	return results, nil
}

// MapRaw passes rows through as flat maps keyed by the compiler's labels,
// with no deduplication or graph reconstruction
func (m *Mapper) MapRaw(projection []dialect.ProjectedColumn, rows [][]interface{}) ([]map[string]interface{}, error) {
	results := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		if len(row) != len(projection) {
			return nil, fmt.Errorf("%w: expected %d columns, got %d", ErrResultShapeMismatch, len(projection), len(row))
		}
		rec := make(map[string]interface{}, len(projection))
		for i, p := range projection {
			label := p.Label
			if label == "" {
				label = p.Alias + "_" + p.Column
			}
			rec[label] = row[i]
		}
		results = append(results, rec)
	}
	return results, nil
}

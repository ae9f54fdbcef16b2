package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/keystone-orm/keystone/query"
)

// loadRelations fetches the requested relation paths with one query per root
// relation, each filtered by the already-loaded primary keys, and grafts the
// loaded properties onto the records. This sidesteps the row multiplication a
// single join across several to-many relations would produce.
func (s *Session) loadRelations(ctx context.Context, entity string, records []map[string]interface{}, includes []string, withDeleted bool) error {
	meta, err := s.registry.Resolve(entity)
	if err != nil {
		return err
	}
	pk := meta.PrimaryKey.Name

	ids := make([]interface{}, 0, len(records))
	byKey := make(map[string]map[string]interface{}, len(records))
	for _, rec := range records {
		v := rec[pk]
		if v == nil {
			continue
		}
		ids = append(ids, v)
		byKey[fmt.Sprintf("%v", v)] = rec
	}
	if len(ids) == 0 {
		return nil
	}

	// one query per root relation, covering all of its nested paths
	grouped := make(map[string][]string)
	for _, path := range includes {
		head := path
		if i := strings.Index(path, "."); i >= 0 {
			head = path[:i]
		}
		grouped[head] = append(grouped[head], path)
	}
	heads := make([]string, 0, len(grouped))
	for head := range grouped {
		heads = append(heads, head)
	}
	sort.Strings(heads)

	for _, head := range heads {
		if _, ok := meta.Relation(head); !ok {
			return fmt.Errorf("%w: %s has no relation %q", query.ErrUnknownRelation, entity, head)
		}

		b := s.Builder().From(entity, "")
		if withDeleted {
			b.IncludeDeleted()
		}
		for _, prefix := range joinPrefixes(grouped[head]) {
			b.LeftJoin(prefix, "")
		}
		b.Where(pk, query.OpIn, ids)

		ast, err := b.Build()
		if err != nil {
			return err
		}
		loaded, err := s.selectEntities(ctx, ast)
		if err != nil {
			return err
		}

		for _, l := range loaded {
			if rec, ok := byKey[fmt.Sprintf("%v", l[pk])]; ok {
				rec[head] = l[head]
			}
		}
	}
	return nil
}

// joinPrefixes expands paths into every prefix chain, deduplicated and in
// stable order ("posts.comments" needs "posts" joined first)
func joinPrefixes(paths []string) []string {
	seen := make(map[string]bool)
	var out []string
	sort.Strings(paths)
	for _, path := range paths {
		segments := strings.Split(path, ".")
		for i := range segments {
			prefix := strings.Join(segments[:i+1], ".")
			if !seen[prefix] {
				seen[prefix] = true
				out = append(out, prefix)
			}
		}
	}
	return out
}

package session

import (
	"context"
)

// Repository is the per-entity façade over a session. It adds no behavior,
// only fixes the entity name, so handlers can depend on one entity's
// persistence without carrying entity names around.
type Repository struct {
	session *Session
	entity  string
}

// Repository returns a façade for the named entity
func (s *Session) Repository(entity string) (*Repository, error) {
	if _, err := s.registry.Resolve(entity); err != nil {
		return nil, err
	}
	return &Repository{session: s, entity: entity}, nil
}

// Find returns every matching entity
func (r *Repository) Find(ctx context.Context, criteria map[string]interface{}, opts ...FindOption) ([]map[string]interface{}, error) {
	return r.session.Find(ctx, r.entity, criteria, opts...)
}

// FindOne returns the first matching entity or ErrNotFound
func (r *Repository) FindOne(ctx context.Context, criteria map[string]interface{}, opts ...FindOption) (map[string]interface{}, error) {
	return r.session.FindOne(ctx, r.entity, criteria, opts...)
}

// Save persists the record, cascading per policy
func (r *Repository) Save(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error) {
	return r.session.Save(ctx, r.entity, record)
}

// Remove deletes the record, cascading per policy
func (r *Repository) Remove(ctx context.Context, record map[string]interface{}) error {
	return r.session.Remove(ctx, r.entity, record)
}

// SoftRemove marks the record deleted
func (r *Repository) SoftRemove(ctx context.Context, record map[string]interface{}) error {
	return r.session.SoftRemove(ctx, r.entity, record)
}

// Recover clears the record's delete marker
func (r *Repository) Recover(ctx context.Context, record map[string]interface{}) error {
	return r.session.Recover(ctx, r.entity, record)
}

// Count returns the number of matching rows
func (r *Repository) Count(ctx context.Context, criteria map[string]interface{}, opts ...FindOption) (int64, error) {
	return r.session.Count(ctx, r.entity, criteria, opts...)
}

// Exists reports whether any row matches the criteria
func (r *Repository) Exists(ctx context.Context, criteria map[string]interface{}) (bool, error) {
	n, err := r.session.Count(ctx, r.entity, criteria)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

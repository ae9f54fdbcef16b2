package cascade

import (
	"fmt"
	"reflect"

	"github.com/keystone-orm/keystone/schema"
)

// DefaultMaxDepth bounds cascade traversal
const DefaultMaxDepth = 32

// Engine expands root writes into operation plans against a frozen registry
type Engine struct {
	registry *schema.Registry
	maxDepth int
}

// NewEngine creates a cascade engine
func NewEngine(registry *schema.Registry) *Engine {
	return &Engine{registry: registry, maxDepth: DefaultMaxDepth}
}

// WithMaxDepth overrides the traversal depth limit
func (e *Engine) WithMaxDepth(n int) *Engine {
	if n > 0 {
		e.maxDepth = n
	}
	return e
}

// Plan expands one root write into an ordered operation plan. The record and
// everything reachable through relation properties is visited; each instance
// is scheduled at most once, identity-tracked by map reference and, once
// known, by primary key.
func (e *Engine) Plan(entityName string, record map[string]interface{}, op Operation) (*Plan, error) {
	meta, err := e.registry.Resolve(entityName)
	if err != nil {
		return nil, err
	}

	p := &planner{
		registry:   e.registry,
		maxDepth:   e.maxDepth,
		plan:       &Plan{},
		byPtr:      make(map[uintptr]*ScheduledOp),
		byKey:      make(map[string]*ScheduledOp),
		inProgress: make(map[uintptr]bool),
	}

	var root *ScheduledOp
	switch op {
	case Insert, Update:
		root, err = p.visitSave(meta, record, op, 0)
	case Remove, SoftRemove:
		root, err = p.visitRemove(meta, record, op, 0)
	case Recover:
		root, err = p.visitRecover(meta, record, 0)
	default:
		return nil, fmt.Errorf("%w: operation %v", ErrInvalidGraph, op)
	}
	if err != nil {
		return nil, err
	}

	// deferred foreign-key fixups run once every row of the cycle exists
	p.plan.Ops = append(p.plan.Ops, p.fixups...)
	p.plan.Root = root
	return p.plan, nil
}

type planner struct {
	registry   *schema.Registry
	maxDepth   int
	plan       *Plan
	byPtr      map[uintptr]*ScheduledOp
	byKey      map[string]*ScheduledOp
	inProgress map[uintptr]bool
	fixups     []*ScheduledOp
}

func (p *planner) visitSave(meta *schema.EntityMetadata, rec map[string]interface{}, op Operation, depth int) (*ScheduledOp, error) {
	if depth > p.maxDepth {
		return nil, fmt.Errorf("%w: %d", ErrDepthExceeded, p.maxDepth)
	}
	if existing := p.lookup(meta, rec); existing != nil {
		return existing, nil
	}

	if op == Update && !hasKey(meta, rec) {
		op = Insert
	}

	ptr := recPtr(rec)
	p.inProgress[ptr] = true
	defer delete(p.inProgress, ptr)

	self := &ScheduledOp{Entity: meta, Record: rec, Op: op}

	// owning to-one references first: the row this record points at must
	// exist before the foreign key can be written
	for _, rel := range meta.Relations {
		if rel.Kind != schema.ManyToOne {
			continue
		}
		raw, present := rec[rel.Name]
		if !present || raw == nil {
			continue
		}
		related, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s must hold a single record", ErrInvalidGraph, meta.Name, rel.Name)
		}
		resolved := rel.Resolved()
		target := resolved.Target

		if p.inProgress[recPtr(related)] {
			// mutual to-one references: insert this side with the key null
			// and patch it once both rows exist
			fkCol, _ := meta.Column(resolved.ForeignKeyColumn)
			if !fkCol.Nullable {
				return nil, fmt.Errorf("%w: %s.%s is non-nullable", ErrUnresolvableCycle, meta.Name, resolved.ForeignKeyColumn)
			}
			p.fixups = append(p.fixups, &ScheduledOp{
				Entity:  meta,
				Record:  rec,
				Op:      Update,
				State:   StateScheduled,
				Columns: []string{resolved.ForeignKeyColumn},
				Assignments: []KeyAssignment{{
					Column:       resolved.ForeignKeyColumn,
					Source:       related,
					SourceColumn: resolved.ReferencedColumn,
				}},
			})
			continue
		}

		switch {
		case !hasKey(target, related):
			// new instances attached to the graph are always persisted so a
			// saved graph reads back whole
			if _, err := p.visitSave(target, related, Insert, depth+1); err != nil {
				return nil, err
			}
		case op == Update && rel.Cascade.Has(schema.CascadeUpdate):
			if _, err := p.visitSave(target, related, Update, depth+1); err != nil {
				return nil, err
			}
		}
		self.Assignments = append(self.Assignments, KeyAssignment{
			Column:       resolved.ForeignKeyColumn,
			Source:       related,
			SourceColumn: resolved.ReferencedColumn,
		})
	}

	p.schedule(self)

	// collections afterwards: children hold this record's key
	for _, rel := range meta.Relations {
		resolved := rel.Resolved()
		switch rel.Kind {
		case schema.OneToMany:
			children, err := toRecords(rec[rel.Name])
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidGraph, meta.Name, rel.Name, err)
			}
			for _, child := range children {
				target := resolved.Target
				var childOp *ScheduledOp
				switch {
				case !hasKey(target, child):
					childOp, err = p.visitSave(target, child, Insert, depth+1)
				case op == Update && rel.Cascade.Has(schema.CascadeUpdate):
					childOp, err = p.visitSave(target, child, Update, depth+1)
				default:
					continue
				}
				if err != nil {
					return nil, err
				}
				childOp.Assignments = append(childOp.Assignments, KeyAssignment{
					Column:       resolved.ForeignKeyColumn,
					Source:       rec,
					SourceColumn: resolved.ReferencedColumn,
				})
			}

		case schema.ManyToManyOwning:
			targets, err := toRecords(rec[rel.Name])
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidGraph, meta.Name, rel.Name, err)
			}
			for _, tr := range targets {
				target := resolved.Target
				isNew := !hasKey(target, tr)
				if isNew {
					if _, err := p.visitSave(target, tr, Insert, depth+1); err != nil {
						return nil, err
					}
				}
				if op == Insert || isNew {
					p.schedule(&ScheduledOp{
						Entity: meta,
						Record: rec,
						Op:     Insert,
						Junction: &JunctionWrite{
							Table:        resolved.JunctionTable,
							OwnerColumn:  resolved.JunctionOwnerColumn,
							TargetColumn: resolved.JunctionTargetColumn,
							OwnerRecord:  rec,
							TargetRecord: tr,
							OwnerKey:     meta.PrimaryKey.Name,
							TargetKey:    target.PrimaryKey.Name,
						},
					})
				}
			}

		case schema.ManyToManyInverse:
			// new targets reached through the inverse side are still
			// persisted; the owning side manages junction rows
			targets, err := toRecords(rec[rel.Name])
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidGraph, meta.Name, rel.Name, err)
			}
			for _, tr := range targets {
				if !hasKey(resolved.Target, tr) {
					if _, err := p.visitSave(resolved.Target, tr, Insert, depth+1); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	return self, nil
}

func (p *planner) visitRemove(meta *schema.EntityMetadata, rec map[string]interface{}, op Operation, depth int) (*ScheduledOp, error) {
	if depth > p.maxDepth {
		return nil, fmt.Errorf("%w: %d", ErrDepthExceeded, p.maxDepth)
	}
	if existing := p.lookup(meta, rec); existing != nil {
		return existing, nil
	}
	if !hasKey(meta, rec) {
		return nil, fmt.Errorf("%w: cannot %s %s", ErrMissingKey, op, meta.Name)
	}
	if op == SoftRemove && meta.SoftDeleteColumn == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoDeleteMarker, meta.Name)
	}

	ptr := recPtr(rec)
	p.inProgress[ptr] = true
	defer delete(p.inProgress, ptr)

	flag := op.cascadeFlag()

	// children go first: their rows reference the one being removed
	var after []*schema.RelationMetadata
	for _, rel := range meta.Relations {
		resolved := rel.Resolved()
		switch rel.Kind {
		case schema.OneToMany:
			if !rel.Cascade.Has(flag) {
				// not touched: the constraint's delete action decides what
				// the database does
				continue
			}
			children, err := toRecords(rec[rel.Name])
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidGraph, meta.Name, rel.Name, err)
			}
			for _, child := range children {
				if p.inProgress[recPtr(child)] {
					continue
				}
				if _, err := p.visitRemove(resolved.Target, child, op, depth+1); err != nil {
					return nil, err
				}
			}

		case schema.ManyToManyOwning, schema.ManyToManyInverse:
			// junction rows key on the declaring side's column, so both sides
			// clear them the same way
			if op == Remove {
				// junction rows reference this row regardless of cascade policy
				p.schedule(&ScheduledOp{
					Entity: meta,
					Record: rec,
					Op:     Remove,
					Junction: &JunctionWrite{
						Table:       resolved.JunctionTable,
						OwnerColumn: resolved.JunctionOwnerColumn,
						OwnerRecord: rec,
						OwnerKey:    meta.PrimaryKey.Name,
						Remove:      true,
					},
				})
			}
			if rel.Cascade.Has(flag) {
				targets, err := toRecords(rec[rel.Name])
				if err != nil {
					return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidGraph, meta.Name, rel.Name, err)
				}
				for _, tr := range targets {
					if p.inProgress[recPtr(tr)] {
						continue
					}
					if _, err := p.visitRemove(resolved.Target, tr, op, depth+1); err != nil {
						return nil, err
					}
				}
			}

		case schema.ManyToOne:
			if rel.Cascade.Has(flag) {
				after = append(after, rel)
			}
		}
	}

	self := &ScheduledOp{Entity: meta, Record: rec, Op: op}
	p.schedule(self)

	// owning references point upward; the referenced row can only go after
	// this one
	for _, rel := range after {
		raw, present := rec[rel.Name]
		if !present || raw == nil {
			continue
		}
		related, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s must hold a single record", ErrInvalidGraph, meta.Name, rel.Name)
		}
		if p.inProgress[recPtr(related)] {
			continue
		}
		if _, err := p.visitRemove(rel.Resolved().Target, related, op, depth+1); err != nil {
			return nil, err
		}
	}

	return self, nil
}

func (p *planner) visitRecover(meta *schema.EntityMetadata, rec map[string]interface{}, depth int) (*ScheduledOp, error) {
	if depth > p.maxDepth {
		return nil, fmt.Errorf("%w: %d", ErrDepthExceeded, p.maxDepth)
	}
	if existing := p.lookup(meta, rec); existing != nil {
		return existing, nil
	}
	if !hasKey(meta, rec) {
		return nil, fmt.Errorf("%w: cannot recover %s", ErrMissingKey, meta.Name)
	}
	if meta.SoftDeleteColumn == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoDeleteMarker, meta.Name)
	}

	ptr := recPtr(rec)
	p.inProgress[ptr] = true
	defer delete(p.inProgress, ptr)

	// parents recover before children so restored rows never reference
	// still-marked ones
	self := &ScheduledOp{Entity: meta, Record: rec, Op: Recover}
	p.schedule(self)

	for _, rel := range meta.Relations {
		if !rel.Cascade.Has(schema.CascadeRecover) {
			continue
		}
		resolved := rel.Resolved()
		switch rel.Kind {
		case schema.OneToMany, schema.ManyToManyOwning, schema.ManyToManyInverse:
			children, err := toRecords(rec[rel.Name])
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidGraph, meta.Name, rel.Name, err)
			}
			for _, child := range children {
				if p.inProgress[recPtr(child)] {
					continue
				}
				if _, err := p.visitRecover(resolved.Target, child, depth+1); err != nil {
					return nil, err
				}
			}
		case schema.ManyToOne:
			raw, present := rec[rel.Name]
			if !present || raw == nil {
				continue
			}
			related, ok := raw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s must hold a single record", ErrInvalidGraph, meta.Name, rel.Name)
			}
			if p.inProgress[recPtr(related)] {
				continue
			}
			if _, err := p.visitRecover(resolved.Target, related, depth+1); err != nil {
				return nil, err
			}
		}
	}

	return self, nil
}

// schedule appends the op to the plan and registers its identity
func (p *planner) schedule(op *ScheduledOp) {
	op.State = StateScheduled
	p.plan.Ops = append(p.plan.Ops, op)
	if op.Junction != nil {
		return
	}
	p.byPtr[recPtr(op.Record)] = op
	if hasKey(op.Entity, op.Record) {
		p.byKey[instanceKey(op.Entity, op.Record)] = op
	}
}

// lookup finds an already scheduled op for the instance, by reference first
// and by primary key second
func (p *planner) lookup(meta *schema.EntityMetadata, rec map[string]interface{}) *ScheduledOp {
	if op, ok := p.byPtr[recPtr(rec)]; ok {
		return op
	}
	if hasKey(meta, rec) {
		if op, ok := p.byKey[instanceKey(meta, rec)]; ok {
			return op
		}
	}
	return nil
}

func recPtr(rec map[string]interface{}) uintptr {
	return reflect.ValueOf(rec).Pointer()
}

func hasKey(meta *schema.EntityMetadata, rec map[string]interface{}) bool {
	v, ok := rec[meta.PrimaryKey.Name]
	return ok && v != nil
}

func instanceKey(meta *schema.EntityMetadata, rec map[string]interface{}) string {
	return fmt.Sprintf("%s/%v", meta.Name, rec[meta.PrimaryKey.Name])
}

// toRecords normalizes a collection property into a record slice
func toRecords(v interface{}) ([]map[string]interface{}, error) {
	switch vv := v.(type) {
	case nil:
		return nil, nil
	case []map[string]interface{}:
		return vv, nil
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(vv))
		for _, item := range vv {
			rec, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("collection holds a %T", item)
			}
			out = append(out, rec)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a collection, got %T", v)
	}
}

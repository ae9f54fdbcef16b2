// Package cascade expands a single root write into an ordered operation plan
// over the related entity graph. The plan order is the correctness mechanism:
// executed sequentially inside one transaction it never violates a
// foreign-key constraint, cycles excepted (which error explicitly).
package cascade

import (
	"fmt"

	"github.com/keystone-orm/keystone/schema"
)

// Operation is the kind of write applied to one instance
type Operation int

const (
	Insert Operation = iota
	Update
	Remove
	SoftRemove
	Recover
)

// String returns the operation name
func (o Operation) String() string {
	switch o {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Remove:
		return "remove"
	case SoftRemove:
		return "soft-remove"
	case Recover:
		return "recover"
	default:
		return "unknown"
	}
}

// cascadeFlag maps an operation to the cascade policy bit that propagates it
func (o Operation) cascadeFlag() schema.CascadeSet {
	switch o {
	case Insert:
		return schema.CascadeInsert
	case Update:
		return schema.CascadeUpdate
	case Remove:
		return schema.CascadeRemove
	case SoftRemove:
		return schema.CascadeSoftRemove
	case Recover:
		return schema.CascadeRecover
	default:
		return 0
	}
}

// State tracks one instance-operation pair through the plan lifecycle
type State int

const (
	StatePending State = iota
	StateScheduled
	StateExecuted
	StateFailed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateScheduled:
		return "scheduled"
	case StateExecuted:
		return "executed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// KeyAssignment copies a key from a source record into the operation's record
// just before execution. Generated keys only exist once the source row has
// been inserted, so the copy cannot happen at planning time.
type KeyAssignment struct {
	// Column is the property set on the operation's record
	Column string
	// Source is the record the value is read from
	Source map[string]interface{}
	// SourceColumn is the property read from Source
	SourceColumn string
}

// JunctionWrite is a row write against a many-to-many junction table
type JunctionWrite struct {
	Table        string
	OwnerColumn  string
	TargetColumn string
	OwnerRecord  map[string]interface{}
	TargetRecord map[string]interface{}
	OwnerKey     string
	TargetKey    string
	// Remove deletes every junction row keyed by the owner instead of
	// inserting one link row
	Remove bool
}

// ScheduledOp is one entry of an operation plan
type ScheduledOp struct {
	Entity *schema.EntityMetadata
	Record map[string]interface{}
	Op     Operation
	State  State

	// Assignments are applied to Record before the statement is built
	Assignments []KeyAssignment

	// Columns restricts an update to the named columns. Used by cycle fixups,
	// which must touch only the deferred foreign key.
	Columns []string

	// Junction, when non-nil, makes this a junction-table write; Entity and
	// Record then describe the owning side
	Junction *JunctionWrite
}

// MarkExecuted transitions the op to Executed
func (op *ScheduledOp) MarkExecuted() {
	op.State = StateExecuted
}

// MarkFailed transitions the op to Failed
func (op *ScheduledOp) MarkFailed() {
	op.State = StateFailed
}

// Plan is the ordered operation sequence for one unit-of-work call. It is
// created per call and discarded after execution or rollback.
type Plan struct {
	Root *ScheduledOp
	Ops  []*ScheduledOp
}

// Describe renders the plan as "op Entity" steps, junction writes excluded.
// Useful in logs and tests.
func (p *Plan) Describe() []string {
	out := make([]string, 0, len(p.Ops))
	for _, op := range p.Ops {
		if op.Junction != nil {
			continue
		}
		out = append(out, fmt.Sprintf("%s %s", op.Op, op.Entity.Name))
	}
	return out
}

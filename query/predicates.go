// Package query provides the fluent builder and the AST it produces. Building
// is pure: the same sequence of builder calls always yields a structurally
// equal AST, and every value referenced by a predicate is carried as a bound
// parameter, never as SQL text.
package query

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpILike
	OpIsNull
	OpIsNotNull
	OpBetween
)

// String returns the SQL representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpILike:
		return "ILIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	case OpBetween:
		return "BETWEEN"
	default:
		return "UNKNOWN"
	}
}

// NeedsValue reports whether the operator binds a parameter
func (o Operator) NeedsValue() bool {
	return o != OpIsNull && o != OpIsNotNull
}

// Condition is one comparison in a WHERE clause. Alias is empty for the root
// entity; Field is a property name validated against the aliased entity.
type Condition struct {
	Alias    string
	Field    string
	Operator Operator
	Value    interface{}
	Or       bool
}

// PredicateGroup is a parenthesized group of conditions and nested groups
type PredicateGroup struct {
	Conditions []*Condition
	Groups     []*PredicateGroup
	Or         bool
}

// NewPredicateGroup creates an empty group combined with AND (or=false) or OR
func NewPredicateGroup(or bool) *PredicateGroup {
	return &PredicateGroup{Or: or}
}

// AddCondition appends a condition to the group
func (pg *PredicateGroup) AddCondition(cond *Condition) *PredicateGroup {
	pg.Conditions = append(pg.Conditions, cond)
	return pg
}

// AddGroup appends a nested group
func (pg *PredicateGroup) AddGroup(group *PredicateGroup) *PredicateGroup {
	pg.Groups = append(pg.Groups, group)
	return pg
}

// Empty reports whether the group holds no conditions at any depth
func (pg *PredicateGroup) Empty() bool {
	if pg == nil {
		return true
	}
	if len(pg.Conditions) > 0 {
		return false
	}
	for _, g := range pg.Groups {
		if !g.Empty() {
			return false
		}
	}
	return true
}

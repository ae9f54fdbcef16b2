// Package dialect lowers query ASTs into parameterized SQL. Compilation is
// pure and deterministic: the same AST always compiles to byte-identical SQL,
// which is what makes statement caching and snapshot testing possible.
package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the few ways supported databases differ at the SQL level
type Dialect interface {
	Name() string
	// Placeholder renders the n-th (1-based) parameter placeholder
	Placeholder(n int) string
	// QuoteIdentifier quotes a table, column, or alias name when the name
	// would otherwise clash with an SQL keyword
	QuoteIdentifier(name string) string
	SupportsReturning() bool
	SupportsILike() bool
}

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgresDialect) QuoteIdentifier(name string) string {
	return quoteIdent(name, `"`)
}
func (postgresDialect) SupportsReturning() bool { return true }
func (postgresDialect) SupportsILike() bool     { return true }

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) QuoteIdentifier(name string) string {
	return quoteIdent(name, `"`)
}
func (sqliteDialect) SupportsReturning() bool { return true }
func (sqliteDialect) SupportsILike() bool     { return false }

type mysqlDialect struct{}

func (mysqlDialect) Name() string           { return "mysql" }
func (mysqlDialect) Placeholder(int) string { return "?" }
func (mysqlDialect) QuoteIdentifier(name string) string {
	return quoteIdent(name, "`")
}
func (mysqlDialect) SupportsReturning() bool { return false }
func (mysqlDialect) SupportsILike() bool     { return false }

// reservedWords is the union of the reserved words of the supported dialects
// that can plausibly collide with entity, column, or alias names. Quoting an
// identifier that did not strictly need it is harmless, so the list errs on
// the inclusive side.
var reservedWords = map[string]struct{}{
	"all": {}, "and": {}, "as": {}, "asc": {}, "between": {}, "by": {},
	"case": {}, "check": {}, "collate": {}, "column": {}, "constraint": {},
	"create": {}, "cross": {}, "current_date": {}, "current_time": {},
	"current_timestamp": {}, "current_user": {}, "default": {}, "delete": {},
	"desc": {}, "distinct": {}, "drop": {}, "else": {}, "end": {},
	"exists": {}, "for": {}, "foreign": {}, "from": {}, "group": {},
	"having": {}, "in": {}, "index": {}, "inner": {}, "insert": {},
	"into": {}, "is": {}, "join": {}, "key": {}, "left": {}, "like": {},
	"limit": {}, "not": {}, "null": {}, "offset": {}, "on": {}, "or": {},
	"order": {}, "outer": {}, "primary": {}, "references": {}, "right": {},
	"select": {}, "set": {}, "table": {}, "then": {}, "to": {}, "union": {},
	"unique": {}, "update": {}, "user": {}, "using": {}, "values": {},
	"when": {}, "where": {}, "with": {},
}

func quoteIdent(name, quote string) string {
	if _, reserved := reservedWords[strings.ToLower(name)]; reserved {
		return quote + name + quote
	}
	return name
}

var (
	Postgres Dialect = postgresDialect{}
	SQLite   Dialect = sqliteDialect{}
	MySQL    Dialect = mysqlDialect{}
)

// FromName resolves a dialect by its configuration name
func FromName(name string) (Dialect, error) {
	switch name {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	default:
		return nil, fmt.Errorf("%w: dialect %q", ErrUnsupportedFeature, name)
	}
}

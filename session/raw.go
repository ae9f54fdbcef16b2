package session

import (
	"context"
	"fmt"
	"time"

	"github.com/keystone-orm/keystone/query"
)

// Raw runs a parameterized SQL string directly, bypassing entity mapping.
// Rows come back as flat maps keyed by the driver's column names.
func (s *Session) Raw(ctx context.Context, sqlText string, args ...interface{}) ([]map[string]interface{}, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	err = ConvertDBError(err)
	s.logger.Query(ctx, sqlText, args, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return scanMaps(rows)
}

// QueryAST compiles and runs a pre-built select AST in raw mode, returning
// flat rows under the compiler's generated labels
func (s *Session) QueryAST(ctx context.Context, ast *query.AST) ([]map[string]interface{}, error) {
	if ast.Op != query.OpSelect {
		return nil, fmt.Errorf("%w: QueryAST requires a select", query.ErrMalformedQuery)
	}
	raw := *ast
	raw.Projection = query.ProjectionRaw

	stmt, err := s.compiler.Compile(&raw)
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
	return s.mapper.MapRaw(stmt.Projection, values)
}

// ExecAST compiles and runs a pre-built write AST outside any cascade plan,
// returning the affected row count
func (s *Session) ExecAST(ctx context.Context, ast *query.AST) (int64, error) {
	stmt, err := s.compiler.Compile(ast)
	if err != nil {
		return 0, err
	}
	res, err := s.exec(ctx, s.db, stmt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package dialect

import "errors"

var (
	// ErrUnsupportedFeature is returned when an AST asks for a construct the
	// target dialect cannot express (for example RETURNING on MySQL)
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrInvalidAST is returned when an AST is internally inconsistent; ASTs
	// produced by query.Builder never trigger this
	ErrInvalidAST = errors.New("invalid query AST")
)

// Package session coordinates units of work: it expands writes through the
// cascade engine, executes the resulting plan in dependency order inside one
// transaction, and maps reads back into entity graphs. All errors occurring
// after a transaction began result in rollback before being returned.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keystone-orm/keystone/cascade"
	"github.com/keystone-orm/keystone/dialect"
	"github.com/keystone-orm/keystone/logging"
	"github.com/keystone-orm/keystone/mapper"
	"github.com/keystone-orm/keystone/query"
	"github.com/keystone-orm/keystone/schema"
)

// Session is the engine's coordination point. It is safe for concurrent use:
// each logical operation opens its own transaction, and the registry it reads
// is frozen. No operation is retried automatically; a plan is not guaranteed
// idempotent on re-execution, so retries belong to the caller.
type Session struct {
	db       DB
	registry *schema.Registry
	dialect  dialect.Dialect
	compiler *dialect.Compiler
	cascades *cascade.Engine
	mapper   *mapper.Mapper
	logger   logging.Logger
}

// Option configures a session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New builds a session over a finalized registry
func New(db DB, registry *schema.Registry, cfg Config, opts ...Option) (*Session, error) {
	if !registry.Frozen() {
		return nil, ErrRegistryNotFrozen
	}
	d, err := dialect.FromName(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	s := &Session{
		db:       db,
		registry: registry,
		dialect:  d,
		compiler: dialect.NewCompiler(d, registry),
		cascades: cascade.NewEngine(registry).WithMaxDepth(cfg.MaxCascadeDepth),
		mapper:   mapper.New(registry),
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.LogQueries && s.logger == logging.Nop() {
		zl, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		s.logger = logging.NewZapLogger(zl, cfg.ColorLogs)
	}
	return s, nil
}

// Registry returns the session's frozen registry
func (s *Session) Registry() *schema.Registry {
	return s.registry
}

// Builder returns a fresh query builder bound to the session's registry
func (s *Session) Builder() *query.Builder {
	return query.NewBuilder(s.registry)
}

// Save persists the record and everything its cascade policies reach. New
// records (no primary key) are inserted, existing ones updated. The record is
// returned with generated keys filled in.
func (s *Session) Save(ctx context.Context, entity string, record map[string]interface{}) (map[string]interface{}, error) {
	meta, err := s.registry.Resolve(entity)
	if err != nil {
		return nil, err
	}
	op := cascade.Update
	if record[meta.PrimaryKey.Name] == nil {
		op = cascade.Insert
	}
	if err := s.execute(ctx, entity, record, op); err != nil {
		return nil, err
	}
	return record, nil
}

// Remove deletes the record, cascading per policy. Children without a remove
// cascade are left to the underlying constraint's delete action; a RESTRICT
// violation surfaces as ErrForeignKeyViolation.
func (s *Session) Remove(ctx context.Context, entity string, record map[string]interface{}) error {
	return s.execute(ctx, entity, record, cascade.Remove)
}

// SoftRemove sets the delete marker on the record and on every relation with
// a soft-remove cascade
func (s *Session) SoftRemove(ctx context.Context, entity string, record map[string]interface{}) error {
	return s.execute(ctx, entity, record, cascade.SoftRemove)
}

// Recover clears the delete marker set by SoftRemove, cascading per policy
func (s *Session) Recover(ctx context.Context, entity string, record map[string]interface{}) error {
	return s.execute(ctx, entity, record, cascade.Recover)
}

// execute runs one unit of work: plan, then apply sequentially inside a
// single transaction. Ordering is the correctness mechanism, so nothing runs
// concurrently within a plan.
func (s *Session) execute(ctx context.Context, entity string, record map[string]interface{}, op cascade.Operation) error {
	plan, err := s.cascades.Plan(entity, record, op)
	if err != nil {
		return err
	}
	s.logger.Event(ctx, "plan built",
		zap.String("entity", entity),
		zap.String("op", op.String()),
		zap.Int("ops", len(plan.Ops)))

	err = withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		for _, scheduled := range plan.Ops {
			if err := s.executeOp(ctx, tx, scheduled); err != nil {
				scheduled.MarkFailed()
				return err
			}
			scheduled.MarkExecuted()
		}
		return nil
	})
	if err != nil {
		s.logger.Event(ctx, "unit of work rolled back",
			zap.String("entity", entity), zap.Error(err))
		return err
	}
	return nil
}

func (s *Session) executeOp(ctx context.Context, tx *sql.Tx, op *cascade.ScheduledOp) error {
	if op.Junction != nil {
		return s.executeJunction(ctx, tx, op.Junction)
	}

	// parent keys exist by now; copy them into the foreign-key columns
	for _, a := range op.Assignments {
		op.Record[a.Column] = a.Source[a.SourceColumn]
	}

	switch op.Op {
	case cascade.Insert:
		return s.executeInsert(ctx, tx, op)
	case cascade.Update:
		return s.executeUpdate(ctx, tx, op)
	case cascade.Remove:
		return s.executeDelete(ctx, tx, op)
	case cascade.SoftRemove:
		return s.executeMarker(ctx, tx, op, time.Now().UTC())
	case cascade.Recover:
		return s.executeMarker(ctx, tx, op, nil)
	default:
		return fmt.Errorf("unexpected operation %v", op.Op)
	}
}

func (s *Session) executeInsert(ctx context.Context, tx *sql.Tx, op *cascade.ScheduledOp) error {
	meta, rec := op.Entity, op.Record
	pk := meta.PrimaryKey

	generated := false
	if rec[pk.Name] == nil {
		if pk.Type == schema.TypeUUID {
			rec[pk.Name] = uuid.NewString()
		} else {
			generated = true
		}
	}

	values := make(map[string]interface{})
	for _, col := range meta.Columns {
		if v, ok := rec[col.Name]; ok && v != nil {
			values[col.Name] = v
		}
	}

	b := s.Builder().InsertInto(meta.Name).Values(values)
	useReturning := generated && s.dialect.SupportsReturning()
	if useReturning {
		b.Returning(pk.Name)
	}
	ast, err := b.Build()
	if err != nil {
		return err
	}
	stmt, err := s.compiler.Compile(ast)
	if err != nil {
		return err
	}

	if useReturning {
		rows, err := s.query(ctx, tx, stmt)
		if err != nil {
			return err
		}
		defer rows.Close()
		if !rows.Next() {
			return ErrNotFound
		}
		var id interface{}
		if err := rows.Scan(&id); err != nil {
			return ConvertDBError(err)
		}
		rec[pk.Name] = id
		return rows.Err()
	}

	res, err := s.exec(ctx, tx, stmt)
	if err != nil {
		return err
	}
	if generated {
		id, err := res.LastInsertId()
		if err != nil {
			return ConvertDBError(err)
		}
		rec[pk.Name] = id
	}
	return nil
}

func (s *Session) executeUpdate(ctx context.Context, tx *sql.Tx, op *cascade.ScheduledOp) error {
	meta, rec := op.Entity, op.Record
	pk := meta.PrimaryKey

	columns := op.Columns
	if len(columns) == 0 {
		for _, col := range meta.Columns {
			if col.Primary {
				continue
			}
			if _, ok := rec[col.Name]; ok {
				columns = append(columns, col.Name)
			}
		}
	}
	if len(columns) == 0 {
		return nil
	}

	b := s.Builder().Update(meta.Name)
	for _, col := range columns {
		b.Set(col, rec[col])
	}
	b.Where(pk.Name, query.OpEqual, rec[pk.Name])
	ast, err := b.Build()
	if err != nil {
		return err
	}
	stmt, err := s.compiler.Compile(ast)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, tx, stmt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ConvertDBError(err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %v", ErrNotFound, meta.Name, rec[pk.Name])
	}
	return nil
}

func (s *Session) executeDelete(ctx context.Context, tx *sql.Tx, op *cascade.ScheduledOp) error {
	meta, rec := op.Entity, op.Record
	b := s.Builder().Delete(meta.Name)
	b.Where(meta.PrimaryKey.Name, query.OpEqual, rec[meta.PrimaryKey.Name])
	ast, err := b.Build()
	if err != nil {
		return err
	}
	stmt, err := s.compiler.Compile(ast)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, tx, stmt)
	return err
}

func (s *Session) executeMarker(ctx context.Context, tx *sql.Tx, op *cascade.ScheduledOp, value interface{}) error {
	meta, rec := op.Entity, op.Record
	b := s.Builder().Update(meta.Name)
	b.Set(meta.SoftDeleteColumn, value)
	b.Where(meta.PrimaryKey.Name, query.OpEqual, rec[meta.PrimaryKey.Name])
	ast, err := b.Build()
	if err != nil {
		return err
	}
	stmt, err := s.compiler.Compile(ast)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, tx, stmt); err != nil {
		return err
	}
	rec[meta.SoftDeleteColumn] = value
	return nil
}

func (s *Session) executeJunction(ctx context.Context, tx *sql.Tx, j *cascade.JunctionWrite) error {
	var stmt *dialect.Statement
	if j.Remove {
		stmt = s.compiler.JunctionDelete(j.Table, j.OwnerColumn, j.OwnerRecord[j.OwnerKey])
	} else {
		stmt = s.compiler.JunctionInsert(j.Table,
			[]string{j.OwnerColumn, j.TargetColumn},
			[]interface{}{j.OwnerRecord[j.OwnerKey], j.TargetRecord[j.TargetKey]})
	}
	_, err := s.exec(ctx, tx, stmt)
	return err
}

// exec runs one statement and logs it
func (s *Session) exec(ctx context.Context, ex Executor, stmt *dialect.Statement) (sql.Result, error) {
	start := time.Now()
	res, err := ex.ExecContext(ctx, stmt.SQL, stmt.Args...)
	err = ConvertDBError(err)
	s.logger.Query(ctx, stmt.SQL, stmt.Args, time.Since(start), err)
	return res, err
}

// query runs one statement returning rows and logs it
func (s *Session) query(ctx context.Context, ex Executor, stmt *dialect.Statement) (*sql.Rows, error) {
	start := time.Now()
	rows, err := ex.QueryContext(ctx, stmt.SQL, stmt.Args...)
	err = ConvertDBError(err)
	s.logger.Query(ctx, stmt.SQL, stmt.Args, time.Since(start), err)
	return rows, err
}

// Package logging provides the engine's query and event logging.
package logging

import (
	"context"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// Logger receives engine events. Implementations must be safe for concurrent
// use; one logger is shared by every session of an engine instance.
type Logger interface {
	// Query is called once per executed statement
	Query(ctx context.Context, sql string, args []interface{}, elapsed time.Duration, err error)
	// Event is called for plan-level events (plan built, transaction
	// committed or rolled back)
	Event(ctx context.Context, msg string, fields ...zap.Field)
}

type nopLogger struct{}

func (nopLogger) Query(context.Context, string, []interface{}, time.Duration, error) {}
func (nopLogger) Event(context.Context, string, ...zap.Field)                        {}

// Nop returns a logger that discards everything
func Nop() Logger {
	return nopLogger{}
}

// ZapLogger logs through a zap logger, optionally coloring the SQL text
type ZapLogger struct {
	log      *zap.Logger
	colorSQL *color.Color
}

// NewZapLogger wraps a zap logger. With colorize set, SQL text is rendered in
// cyan for terminal readability.
func NewZapLogger(log *zap.Logger, colorize bool) *ZapLogger {
	zl := &ZapLogger{log: log}
	if colorize {
		zl.colorSQL = color.New(color.FgCyan)
	}
	return zl
}

// Query logs one executed statement at debug level, or error level when it failed
func (l *ZapLogger) Query(_ context.Context, sql string, args []interface{}, elapsed time.Duration, err error) {
	text := sql
	if l.colorSQL != nil {
		text = l.colorSQL.Sprint(sql)
	}
	fields := []zap.Field{
		zap.String("sql", text),
		zap.Int("args", len(args)),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		l.log.Error("query failed", append(fields, zap.Error(err))...)
		return
	}
	l.log.Debug("query", fields...)
}

// Event logs a plan-level event at info level
func (l *ZapLogger) Event(_ context.Context, msg string, fields ...zap.Field) {
	l.log.Info(msg, fields...)
}

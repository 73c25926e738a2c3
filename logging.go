package corosql

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
)

// dbLogger wraps a *slog.Logger with the on/off and slow-query-threshold
// switches a pool exposes for its own query/transaction logging.
type dbLogger struct {
	enabled            bool
	slowQueryThreshold time.Duration
	logger             *slog.Logger
}

func newDBLogger() *dbLogger {
	return &dbLogger{
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

// EnableLogging turns on structured logging for the pool, optionally
// setting a slow-query warning threshold (spec.md §9's ambient logging
// concern, carried regardless of the query-analytics Non-goal).
func (p *Pool) EnableLogging(slowQueryThreshold time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logger == nil {
		p.logger = newDBLogger()
	}
	p.logger.enabled = true
	p.logger.slowQueryThreshold = slowQueryThreshold
}

// SetLogger installs a custom *slog.Logger for the pool.
func (p *Pool) SetLogger(logger *slog.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logger == nil {
		p.logger = newDBLogger()
	}
	p.logger.logger = logger
}

func (p *Pool) logQuery(ctx context.Context, sql string, shape ResultShape, duration time.Duration, err error) {
	p.mu.Lock()
	l := p.logger
	p.mu.Unlock()
	if l == nil || !l.enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("sql", sql),
		slog.String("shape", string(shape)),
		slog.Float64("duration_ms", float64(duration.Nanoseconds())/1e6),
	}
	if err != nil {
		attrs = append(attrs, slog.String("status", "error"), slog.String("error", err.Error()))
		var me *mysql.MySQLError
		if qe, ok := err.(*QueryError); ok {
			if ue, ok2 := qe.Cause.(*mysql.MySQLError); ok2 {
				me = ue
			}
		}
		if me != nil {
			attrs = append(attrs, slog.Int("mysql_error_code", int(me.Number)))
		}
	} else {
		attrs = append(attrs, slog.String("status", "success"))
	}

	if l.slowQueryThreshold > 0 && duration > l.slowQueryThreshold {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "slow query", attrs...)
		return
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	l.logger.LogAttrs(ctx, level, "query executed", attrs...)
}

func (p *Pool) logTransaction(ctx context.Context, event string, attempt int, duration time.Duration, err error) {
	p.mu.Lock()
	l := p.logger
	p.mu.Unlock()
	if l == nil || !l.enabled {
		return
	}
	attrs := []slog.Attr{
		slog.String("event", event),
		slog.Int("attempt", attempt),
		slog.Float64("duration_ms", float64(duration.Nanoseconds())/1e6),
	}
	if err != nil {
		attrs = append(attrs, slog.String("status", "error"), slog.String("error", err.Error()))
		l.logger.LogAttrs(ctx, slog.LevelError, "transaction event", attrs...)
		return
	}
	attrs = append(attrs, slog.String("status", "success"))
	l.logger.LogAttrs(ctx, slog.LevelInfo, "transaction event", attrs...)
}

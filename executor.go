package corosql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ResultShape selects the post-execution transformation the Async Query
// Executor applies to a materialized result (spec.md §3, Result Shape).
type ResultShape string

const (
	ShapeRows     ResultShape = "rows"
	ShapeRow      ResultShape = "row"
	ShapeScalar   ResultShape = "scalar"
	ShapeAffected ResultShape = "affected"
)

// Poll interval bounds for the adaptive backoff in the poll loop (spec.md
// §4.D): 10µs to start, growing by 1.2x per miss, clamped at 100µs.
const (
	pollMin    = 10 * time.Microsecond
	pollMax    = 100 * time.Microsecond
	pollFactor = 1.2
)

// Executor runs the prepare/bind/execute/shape pipeline of spec.md §4.D
// against a Session's wireConn, with an adaptive poll loop standing in for
// the cooperative scheduler's suspension point the source language provides
// natively — here, runtime.Gosched on each miss lets other goroutines run.
type Executor struct {
	pool *Pool
}

func newExecutor(p *Pool) *Executor {
	return &Executor{pool: p}
}

// Execute runs sql against s with the given params, an optional caller-
// supplied types string (currently advisory only — the wire boundary binds
// by driver.NamedValue, not by a MySQL types string — kept in the public
// contract so callers porting code that pins types compile unchanged), and
// shapes the result per shape.
func (e *Executor) Execute(ctx context.Context, s *Session, sql string, params []any, types string, shape ResultShape) (result any, err error) {
	var span trace.Span
	if e.pool != nil {
		ctx, span = e.pool.startSpan(ctx, "query", sql)
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = &QueryError{SQL: sql, Params: params, Tag: QueryErrorUnexpected, Message: "panic during execution", Cause: fmt.Errorf("%v", rec)}
		}
		duration := time.Since(start)
		if e.pool != nil {
			e.pool.recordQuery(ctx, shape, duration, err)
			e.pool.logQuery(ctx, sql, shape, duration, err)
			e.pool.endSpan(span, err)
		}
	}()

	result, err = e.execute(ctx, s, sql, params, shape)
	return result, err
}

func (e *Executor) execute(ctx context.Context, s *Session, sql string, params []any, shape ResultShape) (any, error) {
	args, err := bindArgs(params)
	if err != nil {
		return nil, &QueryError{SQL: sql, Params: params, Tag: QueryErrorBind, Message: "value transform failed", Cause: err}
	}

	stmt, err := e.pollPrepare(ctx, s, sql)
	if err != nil {
		return nil, &QueryError{SQL: sql, Params: params, Tag: pollStageTag(QueryErrorPrepare, err), Message: "prepare failed", Cause: err}
	}
	defer stmt.Close()

	if isCursorStatement(sql) {
		rows, err := e.pollQuery(ctx, stmt, args)
		if err != nil {
			return nil, &QueryError{SQL: sql, Params: params, Tag: pollStageTag(QueryErrorExecute, err), Message: "query failed", Cause: err}
		}
		materialized, cols, err := readAllRows(rows)
		if err != nil {
			return nil, &QueryError{SQL: sql, Params: params, Tag: QueryErrorReap, Message: "reap failed", Cause: err}
		}
		return shapeRows(materialized, cols, shape), nil
	}

	res, err := e.pollExec(ctx, stmt, args)
	if err != nil {
		return nil, &QueryError{SQL: sql, Params: params, Tag: pollStageTag(QueryErrorExecute, err), Message: "exec failed", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, &QueryError{SQL: sql, Params: params, Tag: QueryErrorReap, Message: "reap failed", Cause: err}
	}
	if affected < 0 {
		affected = 0
	}
	return affected, nil
}

// pollCanceled distinguishes pollAwait's own ctx.Done() branch from a
// driver call that happens to fail with a context error of its own (a
// driver is free to return context.DeadlineExceeded as an ordinary
// business error, which must keep its stage-specific tag).
type pollCanceled struct {
	cause error
}

func (e *pollCanceled) Error() string { return e.cause.Error() }
func (e *pollCanceled) Unwrap() error { return e.cause }

// pollStageTag reports QueryErrorPoll instead of stageTag when err came
// from pollAwait's own context-cancellation branch rather than from the
// driver call it was waiting on.
func pollStageTag(stageTag QueryErrorTag, err error) QueryErrorTag {
	var pc *pollCanceled
	if errors.As(err, &pc) {
		return QueryErrorPoll
	}
	return stageTag
}

// bindArgs runs step 2 (type detection, advisory) and step 3 (value
// transform) of spec.md §4.D, then normalizes each value to a driver.Value
// (Go ints become int64), producing the driver.NamedValue slice ready to
// bind.
func bindArgs(params []any) ([]driver.NamedValue, error) {
	_ = detectTypes(params) // derives the advisory types string; see Execute's doc comment
	vals, err := preprocessValues(params)
	if err != nil {
		return nil, err
	}
	args := make([]driver.NamedValue, len(vals))
	for i, v := range vals {
		dv, err := driver.DefaultParameterConverter.ConvertValue(v)
		if err != nil {
			return nil, err
		}
		args[i] = driverValue(i, dv)
	}
	return args, nil
}

// isCursorStatement implements step 6's classification: does the
// statement's first keyword, case-insensitively and ignoring leading
// whitespace, indicate a cursor-producing statement.
func isCursorStatement(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)
	for _, kw := range []string{"SELECT", "SHOW", "DESCRIBE"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// shapeRows applies the post-materialization shape of spec.md §4.D step 7.
// cols is the cursor's wire-order column list; ShapeScalar must index
// cols[0] rather than range over a row map, since map iteration order is
// randomized and "first column of first row" is otherwise non-deterministic
// for any statement with more than one column.
func shapeRows(rows []map[string]any, cols []string, shape ResultShape) any {
	switch shape {
	case ShapeRows:
		return rows
	case ShapeRow:
		if len(rows) == 0 {
			return nil
		}
		return rows[0]
	case ShapeScalar:
		if len(rows) == 0 || len(cols) == 0 {
			return nil
		}
		return rows[0][cols[0]]
	case ShapeAffected:
		return int64(len(rows))
	default:
		return rows
	}
}

// pollResult carries the outcome of a blocking wire call run on its own
// goroutine, so the caller can poll for completion instead of blocking the
// calling task outright.
type pollResult struct {
	stmt  driver.Stmt
	rows  driver.Rows
	res   driver.Result
	err   error
	panicVal any
}

// forwardPanic hands a panic raised on a producer goroutine to pollAwait.
func forwardPanic(ch chan<- pollResult) {
	if rec := recover(); rec != nil {
		ch <- pollResult{panicVal: rec}
	}
}

// pollPrepare drives wireConn.prepare through the poll loop described in
// spec.md §4.D. Prepare itself is not async on the wire protocol, but
// routing it through the same adaptive-wait helper keeps every blocking
// call subject to the same suspension-point discipline the cooperative
// scheduler would impose natively.
func (e *Executor) pollPrepare(ctx context.Context, s *Session, sql string) (driver.Stmt, error) {
	ch := make(chan pollResult, 1)
	go func() {
		defer forwardPanic(ch)
		stmt, err := s.wire.prepare(ctx, sql)
		ch <- pollResult{stmt: stmt, err: err}
	}()
	r, err := pollAwait(ctx, ch)
	if err != nil {
		return nil, err
	}
	return r.stmt, r.err
}

func (e *Executor) pollExec(ctx context.Context, stmt driver.Stmt, args []driver.NamedValue) (driver.Result, error) {
	ch := make(chan pollResult, 1)
	go func() {
		defer forwardPanic(ch)
		res, err := execStmt(ctx, stmt, args)
		ch <- pollResult{res: res, err: err}
	}()
	r, err := pollAwait(ctx, ch)
	if err != nil {
		return nil, err
	}
	return r.res, r.err
}

func (e *Executor) pollQuery(ctx context.Context, stmt driver.Stmt, args []driver.NamedValue) (driver.Rows, error) {
	ch := make(chan pollResult, 1)
	go func() {
		defer forwardPanic(ch)
		rows, err := queryStmt(ctx, stmt, args)
		ch <- pollResult{rows: rows, err: err}
	}()
	r, err := pollAwait(ctx, ch)
	if err != nil {
		return nil, err
	}
	return r.rows, r.err
}

// pollAwait implements the poll loop itself: a zero-timeout readiness check
// first, then an adaptive-backoff wait with a scheduler yield between
// misses. The underlying driver call runs on ch's producer goroutine; this
// function never blocks on it directly, so every iteration is a genuine
// suspension point rather than a disguised blocking wait. A panic forwarded
// from the producer goroutine is re-raised here, on the calling goroutine,
// so Execute's recover reports it as QueryErrorUnexpected.
func pollAwait(ctx context.Context, ch <-chan pollResult) (pollResult, error) {
	select {
	case r := <-ch:
		if r.panicVal != nil {
			panic(r.panicVal)
		}
		return r, nil
	default:
	}

	interval := pollMin
	for {
		timer := time.NewTimer(interval)
		select {
		case r := <-ch:
			timer.Stop()
			if r.panicVal != nil {
				panic(r.panicVal)
			}
			return r, nil
		case <-ctx.Done():
			timer.Stop()
			return pollResult{}, &pollCanceled{cause: ctx.Err()}
		case <-timer.C:
			runtime.Gosched()
			interval = time.Duration(float64(interval) * pollFactor)
			if interval > pollMax {
				interval = pollMax
			}
		}
	}
}

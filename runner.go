package corosql

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// IsolationLevel names a MySQL session transaction isolation level, issued
// verbatim in a SET SESSION TRANSACTION ISOLATION LEVEL statement.
// IsolationDefault leaves the session's current level untouched.
type IsolationLevel string

const (
	IsolationDefault         IsolationLevel = ""
	IsolationReadUncommitted IsolationLevel = "READ UNCOMMITTED"
	IsolationReadCommitted   IsolationLevel = "READ COMMITTED"
	IsolationRepeatableRead  IsolationLevel = "REPEATABLE READ"
	IsolationSerializable    IsolationLevel = "SERIALIZABLE"
)

// Runner is the Transaction Runner of spec.md §4.F.
type Runner struct {
	pool     *Pool
	executor *Executor
	registry *txRegistry
}

func newRunner(p *Pool, e *Executor) *Runner {
	return &Runner{pool: p, executor: e, registry: newTxRegistry()}
}

// RunTransaction runs fn inside a transaction, retrying up to attempts
// times on failure. attempts must be >= 1. isolation may be IsolationDefault
// to leave the session's isolation level alone.
func (r *Runner) RunTransaction(ctx context.Context, attempts int, isolation IsolationLevel, fn func(*Tx) (any, error)) (any, error) {
	if attempts < 1 {
		return nil, &InvalidArgument{Parameter: "attempts", Message: "must be >= 1"}
	}

	var history []AttemptRecord
	var lastErr error
	bo := attemptBackoff(ctx, attempts)

	spanCtx := ctx
	var span trace.Span
	if r.pool != nil {
		spanCtx, span = r.pool.startSpan(ctx, "transaction", "")
	}
	defer func() {
		if r.pool != nil {
			r.pool.endSpan(span, lastErr)
		}
	}()

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptStart := time.Now()
		result, err := r.runAttempt(spanCtx, isolation, fn)
		elapsed := time.Since(attemptStart)

		if r.pool != nil {
			r.pool.recordTransaction(ctx, attempt, elapsed, err)
			r.pool.logTransaction(ctx, "attempt", attempt, elapsed, err)
		}

		if err == nil {
			return result, nil
		}

		if isCommitHookFailure(err) {
			// The COMMIT already succeeded; the data is committed. Retrying
			// would re-run the callback body against data it already wrote.
			lastErr = err
			return result, err
		}

		lastErr = err
		history = append(history, AttemptRecord{Attempt: attempt, ErrorSummary: err.Error(), Elapsed: elapsed})

		if attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if !shouldRetry(err) {
			break
		}
		if !waitBackoff(ctx, bo) {
			break
		}
	}

	return nil, &TransactionFailed{Attempts: len(history), History: history, Cause: lastErr}
}

// isCommitHookFailure reports whether err is a commit-hook TransactionError
// — the one attempt outcome that must never feed back into the retry loop,
// since by the time it is raised the COMMIT has already succeeded.
func isCommitHookFailure(err error) bool {
	var te *TransactionError
	return errors.As(err, &te) && te.Tag == TxErrorCommitHook
}

// runAttempt implements one pass of the per-attempt algorithm in spec.md
// §4.F steps 1-8.
func (r *Runner) runAttempt(ctx context.Context, isolation IsolationLevel, fn func(*Tx) (any, error)) (any, error) {
	session, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if isolation != IsolationDefault {
		if _, err := session.wire.exec(ctx, "SET SESSION TRANSACTION ISOLATION LEVEL "+string(isolation), nil); err != nil {
			r.pool.Release(session)
			return nil, &TransactionError{Tag: TxErrorIsolation, Cause: err}
		}
		session.mu.Lock()
		session.isolation = string(isolation)
		session.mu.Unlock()
	}

	if err := session.wire.setAutocommit(ctx, false); err != nil {
		r.pool.Release(session)
		return nil, &TransactionError{Tag: TxErrorBegin, Cause: err}
	}
	// Isolation was already applied above via the session-scoped SET
	// statement, so beginTx gets driver.IsolationLevel(0) here rather than a
	// driver.TxOptions isolation override, which would only apply to this
	// one transaction rather than persisting on the session the way S6
	// (isolation is per-session) expects.
	dtx, err := session.wire.beginTx(ctx, driver.IsolationLevel(0))
	if err != nil {
		_ = session.wire.setAutocommit(ctx, true)
		r.pool.Release(session)
		return nil, &TransactionError{Tag: TxErrorBegin, Cause: err}
	}
	session.setTx(dtx)
	session.setAutocommit(false)
	session.setInTx(true)

	taskCtx, taskID := withTaskID(ctx)
	prev := r.registry.snapshotCurrent(taskID)
	txCtx, err := r.registry.attach(session, taskID)
	if err != nil {
		if tx := session.takeTx(); tx != nil {
			_ = tx.Rollback()
		}
		_ = session.wire.setAutocommit(ctx, true)
		session.setAutocommit(true)
		session.setInTx(false)
		r.pool.Release(session)
		return nil, err
	}

	cleanup := func() {
		r.registry.detach(session, taskID)
		r.registry.publishPrevious(taskID, prev)
		session.setInTx(false)
		r.pool.Release(session)
	}

	tx := &Tx{ctx: taskCtx, session: session, executor: r.executor, txCtx: txCtx}
	result, cbErr := fn(tx)

	if cbErr == nil {
		return r.finishCommit(ctx, session, txCtx, result, cleanup)
	}
	return r.finishRollback(ctx, session, txCtx, cbErr, cleanup)
}

func (r *Runner) finishCommit(ctx context.Context, session *Session, txCtx *TxContext, result any, cleanup func()) (any, error) {
	defer cleanup()

	if err := session.takeTx().Commit(); err != nil {
		_ = session.wire.setAutocommit(ctx, true)
		session.setAutocommit(true)
		return nil, &TransactionError{Tag: TxErrorCommit, Cause: err}
	}
	_ = session.wire.setAutocommit(ctx, true)
	session.setAutocommit(true)

	if hookErr := txCtx.fireCommitHooks(); hookErr != nil {
		return result, &TransactionError{Tag: TxErrorCommitHook, Cause: hookErr}
	}
	return result, nil
}

func (r *Runner) finishRollback(ctx context.Context, session *Session, txCtx *TxContext, cbErr error, cleanup func()) (any, error) {
	defer cleanup()

	if tx := session.takeTx(); tx != nil {
		_ = tx.Rollback()
	}
	_ = session.wire.setAutocommit(ctx, true)
	session.setAutocommit(true)

	if hookErr := txCtx.fireRollbackHooks(); hookErr != nil {
		_ = hookErr // swallow-continue-then-raise-first already applied by fireRollbackHooks; original cbErr still takes priority below
	}
	return nil, cbErr
}

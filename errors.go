package corosql

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorClass classifies a driver error for retry purposes. Unlike the error
// kinds below it is not returned to callers directly; it is an internal
// signal consumed by the Transaction Runner's retry loop.
type ErrorClass int

const (
	ErrClassUnknown ErrorClass = iota
	ErrClassRetryable
	ErrClassConflict
)

// Classify inspects a driver error and reports whether retrying the
// transaction that produced it is likely to succeed. Deadlocks (1213) and
// lock wait timeouts (1205) are ErrClassRetryable, duplicate-key-on-retry
// races (1062) are ErrClassConflict, and everything else, including errors
// that are not MySQL errors, is ErrClassUnknown.
func Classify(err error) ErrorClass {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1213, 1205:
			return ErrClassRetryable
		case 1062:
			return ErrClassConflict
		}
	}
	return ErrClassUnknown
}

// shouldRetry is the retry loop's gate: a driver error that Classify can
// name as retryable or conflict-retryable continues the loop; a driver
// error in neither class does not. Errors that Classify cannot attribute to
// a driver at all (the callback's own business-logic error, for instance)
// are not something Classify has an opinion on, so they retry unconditionally
// — attempts bounds those the same as any other failed attempt.
func shouldRetry(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return true
	}
	cl := Classify(err)
	return cl == ErrClassRetryable || cl == ErrClassConflict
}

// ConfigInvalid is raised by the (intentionally minimal) configuration
// validator at pool construction time.
type ConfigInvalid struct {
	Field    string
	Expected string
}

func (e *ConfigInvalid) Error() string {
	return fmt.Sprintf("corosql: invalid config field %q: expected %s", e.Field, e.Expected)
}

// NotInitialized is raised by the singleton facade when a method is called
// before Init.
type NotInitialized struct{}

func (e *NotInitialized) Error() string { return "corosql: facade not initialized" }

// PoolClosed is raised by the Pool (or surfaced to a waiter) once Close has
// been called.
type PoolClosed struct{}

func (e *PoolClosed) Error() string { return "corosql: pool is closed" }

// ConnectionError is raised by the Connection Factory.
type ConnectionError struct {
	Message string
	Cause   error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("corosql: connection error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("corosql: connection error: %s", e.Message)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// QueryErrorTag distinguishes the stage of query execution that failed.
type QueryErrorTag string

const (
	QueryErrorPrepare    QueryErrorTag = "prepare"
	QueryErrorBind       QueryErrorTag = "bind"
	QueryErrorExecute    QueryErrorTag = "execute"
	QueryErrorPoll       QueryErrorTag = "poll"
	QueryErrorReap       QueryErrorTag = "reap"
	QueryErrorUnexpected QueryErrorTag = "unexpected"
)

// QueryError is raised by the Async Query Executor.
type QueryError struct {
	SQL     string
	Params  []any
	Tag     QueryErrorTag
	Message string
	Cause   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("corosql: query error [%s]: %s: %v", e.Tag, e.Message, e.Cause)
}

func (e *QueryError) Unwrap() error { return e.Cause }

// TransactionErrorTag distinguishes the stage of a transaction attempt that
// failed.
type TransactionErrorTag string

const (
	TxErrorBegin        TransactionErrorTag = "begin"
	TxErrorCommit       TransactionErrorTag = "commit"
	TxErrorRollback     TransactionErrorTag = "rollback"
	TxErrorIsolation    TransactionErrorTag = "isolation"
	TxErrorCommitHook   TransactionErrorTag = "commit-hook"
	TxErrorRollbackHook TransactionErrorTag = "rollback-hook"
)

// TransactionError is raised by the Transaction Runner.
type TransactionError struct {
	Tag   TransactionErrorTag
	Cause error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("corosql: transaction error [%s]: %v", e.Tag, e.Cause)
}

func (e *TransactionError) Unwrap() error { return e.Cause }

// NotInTransaction models spec.md §4.E's on-commit/on-rollback failure mode:
// hook registration by task identity with no open transaction for that task.
// The Tx façade's OnCommit/OnRollback (txfacade.go) take an explicit *Tx
// instead of looking the current transaction up by task identity, so this
// case cannot arise through the façade a caller actually uses — the failure
// mode registry.go's currentFor models has no Go caller to surface it from.
// The type stays in the public error taxonomy because it names a real spec
// failure mode, documented here as unreachable through this port's API
// rather than silently dropped.
type NotInTransaction struct{}

func (e *NotInTransaction) Error() string { return "corosql: not in a transaction" }

// AttemptRecord is one entry of a TransactionFailed's attempt history.
type AttemptRecord struct {
	Attempt      int
	ErrorSummary string
	Elapsed      time.Duration
}

// TransactionFailed is raised by the Runner once all attempts are
// exhausted.
type TransactionFailed struct {
	Attempts int
	History  []AttemptRecord
	Cause    error
}

func (e *TransactionFailed) Error() string {
	return fmt.Sprintf("corosql: transaction failed after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *TransactionFailed) Unwrap() error { return e.Cause }

// InvalidArgument is raised at the call site for programmer errors such as
// attempts < 1.
type InvalidArgument struct {
	Parameter string
	Message   string
}

func (e *InvalidArgument) Error() string {
	return fmt.Sprintf("corosql: invalid argument %q: %s", e.Parameter, e.Message)
}

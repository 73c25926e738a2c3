package corosql

import "context"

// Tx is the Transaction façade of spec.md §4.F step 5: what a user callback
// passed to RunTransaction sees. Every query method is bound to the
// attempt's session; semantics are identical to the top-level DB methods.
type Tx struct {
	ctx      context.Context
	session  *Session
	executor *Executor
	txCtx    *TxContext
}

// Query runs sql and returns every matched row as a column-keyed map.
func (t *Tx) Query(sql string, params ...any) ([]map[string]any, error) {
	v, err := t.executor.Execute(t.ctx, t.session, sql, params, "", ShapeRows)
	if err != nil {
		return nil, err
	}
	return v.([]map[string]any), nil
}

// FetchOne returns the first matched row, or nil if there were none.
func (t *Tx) FetchOne(sql string, params ...any) (map[string]any, error) {
	v, err := t.executor.Execute(t.ctx, t.session, sql, params, "", ShapeRow)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(map[string]any), nil
}

// FetchValue returns the first column of the first matched row, or nil.
func (t *Tx) FetchValue(sql string, params ...any) (any, error) {
	return t.executor.Execute(t.ctx, t.session, sql, params, "", ShapeScalar)
}

// Execute runs sql and returns the number of affected rows.
func (t *Tx) Execute(sql string, params ...any) (int64, error) {
	v, err := t.executor.Execute(t.ctx, t.session, sql, params, "", ShapeAffected)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// OnCommit registers fn to run after this attempt commits successfully.
func (t *Tx) OnCommit(fn func() error) {
	t.txCtx.OnCommit(fn)
}

// OnRollback registers fn to run after this attempt rolls back.
func (t *Tx) OnRollback(fn func() error) {
	t.txCtx.OnRollback(fn)
}

// RawSession exposes the underlying Session for callers that need a wire
// operation the façade does not cover.
func (t *Tx) RawSession() *Session {
	return t.session
}

package corosql

import "context"

// DB is the client facade of spec.md §4.G: a Pool plus the Executor and
// Runner bound to it, exposing the four top-level query shapes and
// transaction support as plain blocking calls (each one under the hood
// acquires a session, runs the async executor's poll loop to completion,
// and releases the session — "async" here means non-blocking of other
// goroutines while polling, not a callback-based API).
type DB struct {
	pool     *Pool
	executor *Executor
	runner   *Runner
}

// NewDB validates cfg, constructs a Pool, and wires an Executor and Runner
// to it. No sessions are created until first use.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	executor := newExecutor(pool)
	runner := newRunner(pool, executor)
	return &DB{pool: pool, executor: executor, runner: runner}, nil
}

// Query runs sql and returns every matched row as a column-keyed map.
func (db *DB) Query(ctx context.Context, sql string, params ...any) ([]map[string]any, error) {
	v, err := db.withSession(ctx, sql, params, ShapeRows)
	if err != nil {
		return nil, err
	}
	return v.([]map[string]any), nil
}

// FetchOne returns the first matched row, or nil if there were none.
func (db *DB) FetchOne(ctx context.Context, sql string, params ...any) (map[string]any, error) {
	v, err := db.withSession(ctx, sql, params, ShapeRow)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(map[string]any), nil
}

// FetchValue returns the first column of the first matched row, or nil.
func (db *DB) FetchValue(ctx context.Context, sql string, params ...any) (any, error) {
	return db.withSession(ctx, sql, params, ShapeScalar)
}

// Execute runs sql and returns the number of affected rows.
func (db *DB) Execute(ctx context.Context, sql string, params ...any) (int64, error) {
	v, err := db.withSession(ctx, sql, params, ShapeAffected)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Run acquires a raw Session, passes it to fn, and releases it on every
// exit path — the escape hatch spec.md §4.G names for callers that need
// wire-level access the four query shapes don't cover.
func (db *DB) Run(ctx context.Context, fn func(*Session) (any, error)) (any, error) {
	session, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer db.pool.Release(session)
	return fn(session)
}

func (db *DB) withSession(ctx context.Context, sql string, params []any, shape ResultShape) (any, error) {
	session, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer db.pool.Release(session)
	return db.executor.Execute(ctx, session, sql, params, "", shape)
}

// Transaction runs fn inside a transaction, retrying up to attempts times
// (spec.md §4.F).
func (db *DB) Transaction(ctx context.Context, attempts int, isolation IsolationLevel, fn func(*Tx) (any, error)) (any, error) {
	return db.runner.RunTransaction(ctx, attempts, isolation, fn)
}

// Stats returns the underlying pool's current statistics.
func (db *DB) Stats() Stats {
	return db.pool.Stats()
}

// LastHandedOut returns the most recently handed-out session, or nil.
func (db *DB) LastHandedOut() *Session {
	return db.pool.LastHandedOut()
}

// Resize changes the pool's capacity.
func (db *DB) Resize(capacity int) error {
	return db.pool.Resize(capacity)
}

// WarmUp pre-creates sessions up to the pool's capacity.
func (db *DB) WarmUp(ctx context.Context) error {
	return db.pool.WarmUp(ctx)
}

// Close closes the underlying pool.
func (db *DB) Close() error {
	return db.pool.Close()
}

// Pool exposes the underlying Pool for callers that need pool-level
// operations (EnableMetrics, EnableLogging, EnableTracing, leak detection)
// not mirrored on DB directly.
func (db *DB) Pool() *Pool {
	return db.pool
}

package corosql

import (
	"context"
	"sync"
)

// singleton is the package-level DB instance: a facade wrapping a single
// global pool, for callers that don't want to thread a *DB through their
// own call graph.
var (
	singletonMu sync.Mutex
	singleton   *DB
)

// Init constructs the package-level DB from cfg. A second call while a
// singleton already exists is a silent no-op, matching spec.md §9's
// init-once semantics — callers that want to reconfigure must call Reset
// first.
func Init(ctx context.Context, cfg Config) error {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return nil
	}
	db, err := NewDB(ctx, cfg)
	if err != nil {
		return err
	}
	singleton = db
	return nil
}

// Reset closes and discards the package-level DB, if any, so a subsequent
// Init can reconfigure it. Intended for tests.
func Reset() error {
	singletonMu.Lock()
	db := singleton
	singleton = nil
	singletonMu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

func instance() (*DB, error) {
	singletonMu.Lock()
	db := singleton
	singletonMu.Unlock()
	if db == nil {
		return nil, &NotInitialized{}
	}
	return db, nil
}

// Query runs sql against the package-level DB.
func Query(ctx context.Context, sql string, params ...any) ([]map[string]any, error) {
	db, err := instance()
	if err != nil {
		return nil, err
	}
	return db.Query(ctx, sql, params...)
}

// FetchOne fetches the first matched row from the package-level DB.
func FetchOne(ctx context.Context, sql string, params ...any) (map[string]any, error) {
	db, err := instance()
	if err != nil {
		return nil, err
	}
	return db.FetchOne(ctx, sql, params...)
}

// FetchValue fetches a single scalar from the package-level DB.
func FetchValue(ctx context.Context, sql string, params ...any) (any, error) {
	db, err := instance()
	if err != nil {
		return nil, err
	}
	return db.FetchValue(ctx, sql, params...)
}

// Execute runs sql against the package-level DB and returns affected rows.
func Execute(ctx context.Context, sql string, params ...any) (int64, error) {
	db, err := instance()
	if err != nil {
		return 0, err
	}
	return db.Execute(ctx, sql, params...)
}

// Run acquires a raw Session from the package-level DB and releases it on
// every exit path.
func Run(ctx context.Context, fn func(*Session) (any, error)) (any, error) {
	db, err := instance()
	if err != nil {
		return nil, err
	}
	return db.Run(ctx, fn)
}

// Transaction runs fn against the package-level DB.
func Transaction(ctx context.Context, attempts int, isolation IsolationLevel, fn func(*Tx) (any, error)) (any, error) {
	db, err := instance()
	if err != nil {
		return nil, err
	}
	return db.Transaction(ctx, attempts, isolation, fn)
}

// StatsGlobal returns the package-level DB's pool statistics.
func StatsGlobal() (Stats, error) {
	db, err := instance()
	if err != nil {
		return Stats{}, err
	}
	return db.Stats(), nil
}

package corosql

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// taskIDKey is the context.Context key under which the Transaction Runner
// carries the calling task's identity. spec.md §9 is explicit that task
// identity must ride on explicit state, not ambient globals; in Go that
// means context.Context rather than a goroutine-local.
type taskIDKey struct{}

// taskIDFrom returns the task identity carried by ctx, if any.
func taskIDFrom(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(taskIDKey{}).(uuid.UUID)
	return v, ok
}

// withTaskID returns ctx carrying id as task identity, and the effective id:
// if ctx already carries one (a nested RunTransaction call on the same
// logical task) that id is reused unchanged, so nested invocations on the
// same task see the same identity.
func withTaskID(ctx context.Context) (context.Context, uuid.UUID) {
	if id, ok := taskIDFrom(ctx); ok {
		return ctx, id
	}
	id := uuid.New()
	return context.WithValue(ctx, taskIDKey{}, id), id
}

// TxContext is the per-transaction hook state of spec.md §4.E: the commit
// and rollback hook lists a user callback populates via the Transaction
// façade's OnCommit/OnRollback.
type TxContext struct {
	mu            sync.Mutex
	commitHooks   []func() error
	rollbackHooks []func() error
}

func newTxContext() *TxContext {
	return &TxContext{}
}

// OnCommit registers fn to run, in registration order, after a successful
// COMMIT.
func (tc *TxContext) OnCommit(fn func() error) {
	tc.mu.Lock()
	tc.commitHooks = append(tc.commitHooks, fn)
	tc.mu.Unlock()
}

// OnRollback registers fn to run, in registration order, after a ROLLBACK.
func (tc *TxContext) OnRollback(fn func() error) {
	tc.mu.Lock()
	tc.rollbackHooks = append(tc.rollbackHooks, fn)
	tc.mu.Unlock()
}

// fireHooks runs hooks in order, swallowing every error but the first, and
// returning that first error (or nil if every hook succeeded). This is the
// "swallow-continue-then-raise-first" policy of spec.md §4.F steps 6-7.
func fireHooks(hooks []func() error) error {
	var first error
	for _, h := range hooks {
		if err := h(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (tc *TxContext) fireCommitHooks() error {
	tc.mu.Lock()
	hooks := tc.commitHooks
	tc.mu.Unlock()
	return fireHooks(hooks)
}

func (tc *TxContext) fireRollbackHooks() error {
	tc.mu.Lock()
	hooks := tc.rollbackHooks
	tc.mu.Unlock()
	return fireHooks(hooks)
}

// txEntry pairs the session under transaction with its hook context, keyed
// by task identity in registry.current.
type txEntry struct {
	sessionID uuid.UUID
	session   *Session
	ctx       *TxContext
}

// txRegistry is the Transaction Context Registry of spec.md §4.E: a mapping
// from session identity to Transaction Context, plus a per-task pointer to
// whichever transaction that task currently has open. Go has no weak map,
// so in place of "discarding a session implicitly discards its context" the
// Runner is relied on to always detach in a defer — see RunTransaction.
type txRegistry struct {
	mu      sync.Mutex
	bySess  map[uuid.UUID]*txEntry
	current map[uuid.UUID]*txEntry // keyed by task id
}

func newTxRegistry() *txRegistry {
	return &txRegistry{
		bySess:  make(map[uuid.UUID]*txEntry),
		current: make(map[uuid.UUID]*txEntry),
	}
}

// attach inserts a fresh Transaction Context for s owned by taskID, and
// publishes it as that task's current transaction. It fails if s already
// has an entry, which would indicate a logic error in the Runner (a session
// can only be under one transaction attempt at a time).
func (r *txRegistry) attach(s *Session, taskID uuid.UUID) (*TxContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bySess[s.id]; exists {
		return nil, &TransactionError{Tag: TxErrorBegin, Cause: errAlreadyAttached}
	}
	e := &txEntry{sessionID: s.id, session: s, ctx: newTxContext()}
	r.bySess[s.id] = e
	r.current[taskID] = e
	return e.ctx, nil
}

// detach removes s's entry and clears it as taskID's current transaction if
// it still is one (it may not be, if a nested transaction already restored
// a different current entry for this task).
func (r *txRegistry) detach(s *Session, taskID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySess, s.id)
	if cur, ok := r.current[taskID]; ok && cur.sessionID == s.id {
		delete(r.current, taskID)
	}
}

// publishPrevious restores prev as taskID's current transaction entry, or
// clears it entirely if prev is nil. Used to unwind the snapshot a nested
// RunTransaction call took before it attached its own entry.
func (r *txRegistry) publishPrevious(taskID uuid.UUID, prev *txEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev == nil {
		delete(r.current, taskID)
		return
	}
	r.current[taskID] = prev
}

// snapshotCurrent returns whatever entry taskID currently has open, or nil.
func (r *txRegistry) snapshotCurrent(taskID uuid.UUID) *txEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current[taskID]
}

// currentFor locates the session and Transaction Context whose owner task
// matches taskID (spec.md §4.E's current-for operation). The Tx façade's
// OnCommit/OnRollback do not call it: they append to the TxContext bound to
// the Tx directly, so currentFor has no caller outside the tests.
func (r *txRegistry) currentFor(taskID uuid.UUID) (*Session, *TxContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.current[taskID]
	if !ok {
		return nil, nil, false
	}
	return e.session, e.ctx, true
}

var errAlreadyAttached = &InvalidArgument{Parameter: "session", Message: "session already has an open transaction context"}

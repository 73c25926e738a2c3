package corosql

import "context"

// isAlive probes a session by first draining any pending multi-result
// cursors, then issuing a trivial round trip (spec.md §4.A). It returns
// true iff both succeed without error.
func isAlive(ctx context.Context, s *Session) bool {
	if s == nil || s.wire == nil {
		return false
	}
	if err := s.wire.drainPending(ctx); err != nil {
		s.setAlive(false)
		return false
	}
	if err := s.wire.ping(ctx); err != nil {
		s.setAlive(false)
		return false
	}
	s.setAlive(true)
	return true
}

// resetSession drains pending results and re-enables autocommit, silently
// tolerating errors — a failing reset simply makes the next isAlive fail,
// which removes the session from the pool (spec.md §4.A). Any active
// transaction is implicitly aborted by this.
func resetSession(ctx context.Context, s *Session) {
	if s == nil || s.wire == nil {
		return
	}
	_ = s.wire.drainPending(ctx)
	if err := s.wire.setAutocommit(ctx, true); err == nil {
		s.setAutocommit(true)
	}
	s.setInTx(false)
}

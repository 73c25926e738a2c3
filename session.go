package corosql

import (
	"context"
	"database/sql/driver"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is an opaque owned handle to one MySQL client connection
// (spec.md §3, Session Handle). It is created by the Connection Factory,
// owned by the Pool, and loaned to exactly one task at a time.
type Session struct {
	id   uuid.UUID
	wire *wireConn

	mu           sync.Mutex
	alive        bool
	inTx         bool
	autocommit   bool
	threadID     int64
	isolation    string
	checkedOutAt time.Time
	tx           driver.Tx
	leakStop     chan struct{}
}

// ID returns a stable identity for the session, used for logging and by the
// Transaction Context Registry to key per-session state.
func (s *Session) ID() uuid.UUID { return s.id }

// Alive reports the session's last known liveness; it is not itself a probe
// — see isAlive in health.go for that.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// InTransaction reports whether the session currently has an open
// transaction, as tracked by the Runner.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx
}

// Autocommit reports the session's last known autocommit state.
func (s *Session) Autocommit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autocommit
}

// ThreadID returns the MySQL connection (thread) id field. The Connection
// Factory does not query or set it, so it is 0 for every session.
func (s *Session) ThreadID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

func (s *Session) setAlive(v bool) {
	s.mu.Lock()
	s.alive = v
	s.mu.Unlock()
}

func (s *Session) setInTx(v bool) {
	s.mu.Lock()
	s.inTx = v
	s.mu.Unlock()
}

func (s *Session) setAutocommit(v bool) {
	s.mu.Lock()
	s.autocommit = v
	s.mu.Unlock()
}

// setTx and takeTx hold the driver-level transaction handle returned by
// wireConn.beginTx between BEGIN and COMMIT/ROLLBACK. takeTx clears it, so a
// second call can't re-commit or re-rollback the same handle.
func (s *Session) setTx(tx driver.Tx) {
	s.mu.Lock()
	s.tx = tx
	s.mu.Unlock()
}

func (s *Session) takeTx() driver.Tx {
	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()
	return tx
}

// setLeakStop and takeLeakStop hold this session's own leak-watcher stop
// channel, so concurrent checkouts of different sessions never race over a
// shared one (pool.go's startLeakWatch/stopLeakWatch).
func (s *Session) setLeakStop(ch chan struct{}) {
	s.mu.Lock()
	s.leakStop = ch
	s.mu.Unlock()
}

func (s *Session) takeLeakStop() chan struct{} {
	s.mu.Lock()
	ch := s.leakStop
	s.leakStop = nil
	s.mu.Unlock()
	return ch
}

func (s *Session) markCheckedOut() {
	s.mu.Lock()
	s.checkedOutAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) heldFor() time.Duration {
	s.mu.Lock()
	t := s.checkedOutAt
	s.mu.Unlock()
	if t.IsZero() {
		return 0
	}
	return time.Since(t)
}

// close releases the underlying wire connection. Idempotent.
func (s *Session) close() error {
	s.setAlive(false)
	if s.wire == nil {
		return nil
	}
	return s.wire.close()
}

// newSession is the Connection Factory (spec.md §4.B): given a validated
// config and a persistence flag it constructs a new Session, setting
// charset, driver options and the requested host/port/socket/credentials.
// The persistence flag is passed to buildConnector, which builds the same
// connector whichever value it has.
func newSession(ctx context.Context, cfg Config, persistent bool) (*Session, error) {
	connector, err := buildConnector(cfg, persistent)
	if err != nil {
		return nil, &ConnectionError{Message: "failed to build connector", Cause: err}
	}
	wc, err := newWireConn(ctx, connector)
	if err != nil {
		return nil, &ConnectionError{Message: "handshake failed", Cause: err}
	}
	if cfg.Charset != "" {
		if err := wc.setCharset(ctx, cfg.Charset); err != nil {
			_ = wc.close()
			return nil, &ConnectionError{Message: "charset set failed", Cause: err}
		}
	}
	if err := wc.setAutocommit(ctx, true); err != nil {
		_ = wc.close()
		return nil, &ConnectionError{Message: "option set failed", Cause: err}
	}
	s := &Session{
		id:         uuid.New(),
		wire:       wc,
		alive:      true,
		autocommit: true,
	}
	return s, nil
}

// driverValue adapts a user-supplied, already-preprocessed parameter into a
// driver.NamedValue for a positional bind at index i.
func driverValue(i int, v any) driver.NamedValue {
	return driver.NamedValue{Ordinal: i + 1, Value: v}
}

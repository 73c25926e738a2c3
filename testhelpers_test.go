package corosql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

// newMockSession wires a *Session directly to a go-sqlmock driver.Conn,
// bypassing the network-facing Connection Factory so pool/executor/runner
// tests run without a real MySQL server. It mirrors the way this package's
// wireConn boundary is satisfied identically by the real driver and
// go-sqlmock in production.
func newMockSession(t *testing.T) (*Session, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sqlConn, err := db.Conn(context.Background())
	if err != nil {
		t.Fatalf("db.Conn: %v", err)
	}

	var dconn driver.Conn
	if err := sqlConn.Raw(func(dc any) error {
		dconn = dc.(driver.Conn)
		return nil
	}); err != nil {
		t.Fatalf("Raw: %v", err)
	}

	s := &Session{
		id:         uuid.New(),
		wire:       &wireConn{driverConn: dconn},
		alive:      true,
		autocommit: true,
	}
	return s, mock, db
}

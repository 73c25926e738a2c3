package corosql

import (
	"context"
	"database/sql/driver"
	"io"
)

// wireConn is the boundary the rest of the package talks to in place of
// spec.md's "host-provided MySQL client library". It is satisfied by a
// database/sql/driver.Conn as produced by either the real MySQL driver
// (github.com/go-sql-driver/mysql) or, in tests, github.com/DATA-DOG/go-sqlmock
// — both implement the context-aware driver interfaces this boundary needs,
// so the pool, executor and runner never know which one they are holding.
type wireConn struct {
	driverConn driver.Conn
	connector  driver.Connector // the connector that opened driverConn; nil for already-open conns. Replacements go through newSession, not this field
}

func newWireConn(ctx context.Context, connector driver.Connector) (*wireConn, error) {
	dc, err := connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &wireConn{driverConn: dc, connector: connector}, nil
}

// ping issues a trivial round trip. Used by the Health Checker.
func (w *wireConn) ping(ctx context.Context) error {
	if p, ok := w.driverConn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := w.queryRows(ctx, "SELECT 1", nil)
	return err
}

// drainPending best-effort drains any unread result sets left over from a
// previous statement. The mysql driver's Rows.Close already does this for
// rows obtained through this package, so in practice there is nothing left
// to drain; this exists to make the contract in spec.md 4.A explicit and to
// give the reset/health-check cycle a single place to extend if a future
// driver needs it.
func (w *wireConn) drainPending(ctx context.Context) error {
	return nil
}

// setAutocommit toggles autocommit via a direct SQL statement — the
// database/sql/driver interfaces expose no dedicated autocommit setter, so
// this mirrors what every MySQL client library does under the hood.
func (w *wireConn) setAutocommit(ctx context.Context, on bool) error {
	stmt := "SET autocommit=0"
	if on {
		stmt = "SET autocommit=1"
	}
	_, err := w.exec(ctx, stmt, nil)
	return err
}

func (w *wireConn) setCharset(ctx context.Context, charset string) error {
	_, err := w.exec(ctx, "SET NAMES "+charset, nil)
	return err
}

func (w *wireConn) beginTx(ctx context.Context, isolation driver.IsolationLevel) (driver.Tx, error) {
	if bc, ok := w.driverConn.(driver.ConnBeginTx); ok {
		return bc.BeginTx(ctx, driver.TxOptions{Isolation: isolation})
	}
	return w.driverConn.Begin()
}

// prepare returns a driver.Stmt, or a context-aware one when available.
func (w *wireConn) prepare(ctx context.Context, query string) (driver.Stmt, error) {
	if pc, ok := w.driverConn.(driver.ConnPrepareContext); ok {
		return pc.PrepareContext(ctx, query)
	}
	return w.driverConn.Prepare(query)
}

// exec runs a statement expecting an affected-rows style result.
func (w *wireConn) exec(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if ec, ok := w.driverConn.(driver.ExecerContext); ok {
		return ec.ExecContext(ctx, query, args)
	}
	stmt, err := w.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	return execStmt(ctx, stmt, args)
}

// queryRows runs a statement expecting a cursor.
func (w *wireConn) queryRows(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if qc, ok := w.driverConn.(driver.QueryerContext); ok {
		return qc.QueryContext(ctx, query, args)
	}
	stmt, err := w.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	return queryStmt(ctx, stmt, args)
}

func (w *wireConn) close() error {
	return w.driverConn.Close()
}

func execStmt(ctx context.Context, stmt driver.Stmt, args []driver.NamedValue) (driver.Result, error) {
	if sc, ok := stmt.(driver.StmtExecContext); ok {
		return sc.ExecContext(ctx, args)
	}
	vals, err := namedToValues(args)
	if err != nil {
		return nil, err
	}
	return stmt.Exec(vals) //nolint:staticcheck // legacy fallback for drivers without context support
}

func queryStmt(ctx context.Context, stmt driver.Stmt, args []driver.NamedValue) (driver.Rows, error) {
	if sc, ok := stmt.(driver.StmtQueryContext); ok {
		return sc.QueryContext(ctx, args)
	}
	vals, err := namedToValues(args)
	if err != nil {
		return nil, err
	}
	return stmt.Query(vals) //nolint:staticcheck
}

func namedToValues(args []driver.NamedValue) ([]driver.Value, error) {
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	return vals, nil
}

// readAllRows materializes a driver.Rows cursor into column-keyed maps, the
// "Rows" result shape. It owns closing the cursor. The column list is
// returned alongside the rows, in wire order, since a map[string]any row
// discards that order and the Scalar shape needs column 0 specifically
// rather than whichever key Go's map iteration happens to visit first.
func readAllRows(rows driver.Rows) ([]map[string]any, []string, error) {
	defer rows.Close()
	cols := rows.Columns()
	out := make([]map[string]any, 0)
	buf := make([]driver.Value, len(cols))
	for {
		err := rows.Next(buf)
		if err == io.EOF {
			return out, cols, nil
		}
		if err != nil {
			return out, cols, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = buf[i]
		}
		out = append(out, row)
	}
}

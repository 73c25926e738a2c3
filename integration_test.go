//go:build integration

package corosql

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupMySQLContainer starts a disposable MySQL 8 instance and returns a
// Config that dials it. Run with -tags integration; skipped otherwise so the
// ordinary test suite never needs Docker.
func setupMySQLContainer(t *testing.T) Config {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("corosql_test"),
		tcmysql.WithUsername("corosql"),
		tcmysql.WithPassword("corosql"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("port: 3306  MySQL Community Server").
				WithOccurrence(1).
				WithStartupTimeout(90*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306")
	require.NoError(t, err)
	portInt, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	return Config{
		Host:     host,
		Port:     portInt,
		Username: "corosql",
		Password: "corosql",
		Database: "corosql_test",
		Capacity: 8,
	}
}

func TestIntegration_S1_FIFOWaiterFairness(t *testing.T) {
	cfg := setupMySQLContainer(t)
	cfg.Capacity = 1
	db, err := NewDB(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	s1, err := db.pool.Acquire(ctx)
	require.NoError(t, err)

	order := make(chan int, 3)
	var wg sync.WaitGroup
	for i := 2; i <= 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s, err := db.pool.Acquire(ctx)
			require.NoError(t, err)
			order <- n
			db.pool.Release(s)
		}(i)
	}
	time.Sleep(50 * time.Millisecond) // let T2-T4 queue up in order
	db.pool.Release(s1)
	wg.Wait()
	close(order)

	var got []int
	for n := range order {
		got = append(got, n)
	}
	require.Equal(t, []int{2, 3, 4}, got)
	require.Equal(t, 0, db.Stats().WaiterCount)
}

func TestIntegration_S2_DeadReleaseReplacesForHeadWaiter(t *testing.T) {
	cfg := setupMySQLContainer(t)
	cfg.Capacity = 2
	db, err := NewDB(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	s1, err := db.pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = db.pool.Acquire(ctx)
	require.NoError(t, err)

	result := make(chan *Session, 1)
	go func() {
		s, err := db.pool.Acquire(ctx)
		require.NoError(t, err)
		result <- s
	}()
	time.Sleep(50 * time.Millisecond)

	_ = s1.wire.close() // simulate an externally dropped connection
	db.pool.Release(s1)

	var t3Session *Session
	select {
	case t3Session = <-result:
	case <-time.After(5 * time.Second):
		t.Fatal("T3 was never handed a replacement session")
	}
	require.NotSame(t, s1, t3Session)
	require.Equal(t, 2, db.Stats().LiveCount)
}

func TestIntegration_S3_PollLoopInterleavesConcurrentQueries(t *testing.T) {
	cfg := setupMySQLContainer(t)
	cfg.Capacity = 3
	db, err := NewDB(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.Query(context.Background(), "SELECT SLEEP(1)")
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Less(t, time.Since(start), 1500*time.Millisecond)
}

func TestIntegration_S4_CommitAndRollbackHooks(t *testing.T) {
	cfg := setupMySQLContainer(t)
	db, err := NewDB(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.Execute(ctx, `CREATE TABLE accounts(id INT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(100), balance DECIMAL(10,2))`)
	require.NoError(t, err)

	var committed bool
	result, err := db.Transaction(ctx, 1, IsolationDefault, func(tx *Tx) (any, error) {
		if _, err := tx.Execute(`INSERT INTO accounts(name, balance) VALUES (?, ?)`, "Alice", 1000); err != nil {
			return nil, err
		}
		if _, err := tx.Execute(`INSERT INTO accounts(name, balance) VALUES (?, ?)`, "Bob", 2000); err != nil {
			return nil, err
		}
		tx.OnCommit(func() error { committed = true; return nil })
		return "success", nil
	})
	require.NoError(t, err)
	require.Equal(t, "success", result)
	require.True(t, committed)

	count, err := db.FetchValue(ctx, `SELECT COUNT(*) FROM accounts`)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	var rolledBack bool
	_, err = db.Transaction(ctx, 1, IsolationDefault, func(tx *Tx) (any, error) {
		if _, err := tx.Execute(`INSERT INTO accounts(name, balance) VALUES (?, ?)`, "Charlie", 500); err != nil {
			return nil, err
		}
		tx.OnRollback(func() error { rolledBack = true; return nil })
		return nil, fmt.Errorf("simulated failure")
	})
	var failed *TransactionFailed
	require.ErrorAs(t, err, &failed)
	require.True(t, rolledBack)

	count, err = db.FetchValue(ctx, `SELECT COUNT(*) FROM accounts WHERE name = 'Charlie'`)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestIntegration_S5_RetryToSuccess(t *testing.T) {
	cfg := setupMySQLContainer(t)
	db, err := NewDB(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.Execute(ctx, `CREATE TABLE widgets(id INT AUTO_INCREMENT PRIMARY KEY, label VARCHAR(100))`)
	require.NoError(t, err)

	attempts := 0
	result, err := db.Transaction(ctx, 3, IsolationDefault, func(tx *Tx) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("simulated transient failure %d", attempts)
		}
		if _, err := tx.Execute(`INSERT INTO widgets(label) VALUES (?)`, "widget-1"); err != nil {
			return nil, err
		}
		return "completed", nil
	})
	require.NoError(t, err)
	require.Equal(t, "completed", result)
	require.Equal(t, 3, attempts)

	count, err := db.FetchValue(ctx, `SELECT COUNT(*) FROM widgets`)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestIntegration_S6_IsolationIsPerSession(t *testing.T) {
	cfg := setupMySQLContainer(t)
	db, err := NewDB(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	level, err := db.Transaction(ctx, 1, IsolationSerializable, func(tx *Tx) (any, error) {
		return tx.FetchValue(`SELECT @@transaction_isolation`)
	})
	require.NoError(t, err)
	require.Equal(t, "SERIALIZABLE", asString(level))

	level, err = db.Transaction(ctx, 1, IsolationDefault, func(tx *Tx) (any, error) {
		return tx.FetchValue(`SELECT @@transaction_isolation`)
	})
	require.NoError(t, err)
	require.Equal(t, "REPEATABLE-READ", asString(level))
}

func asString(v any) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}

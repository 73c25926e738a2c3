package corosql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collectWaitersQueued reads the current value of corosql_waiters_queued
// off an otel/sdk ManualReader, the standard way to assert on instrument
// values without a live exporter.
func collectWaitersQueued(t *testing.T, reader *metric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "corosql_waiters_queued" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0
			}
			return sum.DataPoints[0].Value
		}
	}
	return 0
}

// TestPool_Metrics_WaitersQueuedReturnsToZero guards against the gauge only
// ever incrementing: a waiter that is fulfilled, failed, or cancelled must
// bring corosql_waiters_queued back down, not leave it growing forever.
func TestPool_Metrics_WaitersQueuedReturnsToZero(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))

	p := testPool(1)
	p.EnableMetrics(provider)
	session, mock, _ := newMockSession(t)
	p.idle.PushBack(session)
	p.live = 1

	got, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), collectWaitersQueued(t, reader), "no waiter queued yet")

	waiterDone := make(chan struct{})
	go func() {
		_, _ = p.Acquire(context.Background())
		close(waiterDone)
	}()

	require.Eventually(t, func() bool {
		return collectWaitersQueued(t, reader) == int64(1)
	}, time.Second, time.Millisecond, "waiter never registered as queued")

	mock.ExpectPing()
	mock.ExpectExec("SET autocommit=1").WillReturnResult(sqlmock.NewResult(0, 0))
	p.Release(got)

	select {
	case <-waiterDone:
	case <-time.After(time.Second):
		t.Fatal("queued waiter was never fulfilled")
	}
	require.Equal(t, int64(0), collectWaitersQueued(t, reader), "gauge must return to zero once the waiter is fulfilled")
}

// TestPool_Metrics_WaitersQueuedZeroAfterCancel covers the cancellation
// path specifically: a waiter that times out must also be removed from the
// gauge, not just from the waiter queue.
func TestPool_Metrics_WaitersQueuedZeroAfterCancel(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))

	p := testPool(1)
	p.EnableMetrics(provider)
	p.live = 1 // at capacity, idle empty: Acquire must queue a waiter

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int64(0), collectWaitersQueued(t, reader), "cancelled waiter must not linger in the gauge")
}

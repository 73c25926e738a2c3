package corosql

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricsInstrumentationName = "github.com/corosql/corosql"

var defaultMeter = otel.Meter(metricsInstrumentationName)

// poolMetrics holds the OpenTelemetry instruments for one Pool. It is nil
// until EnableMetrics is called — instrumentation is opt-in.
type poolMetrics struct {
	sessionsLive  metric.Int64UpDownCounter
	sessionsTotal metric.Int64Counter
	waitersQueued metric.Int64UpDownCounter
	acquireFailed metric.Int64Counter
	queriesTotal  metric.Int64Counter
	queryDuration metric.Float64Histogram
	txTotal       metric.Int64Counter
	txDuration    metric.Float64Histogram
}

// EnableMetrics enables OpenTelemetry instrumentation for this pool. It is
// safe to call before any Acquire.
func (p *Pool) EnableMetrics(provider metric.MeterProvider) {
	meter := defaultMeter
	if provider != nil {
		meter = provider.Meter(metricsInstrumentationName)
	}

	m := &poolMetrics{}
	m.sessionsLive, _ = meter.Int64UpDownCounter("corosql_sessions_live",
		metric.WithDescription("Number of live MySQL sessions owned by the pool"))
	m.sessionsTotal, _ = meter.Int64Counter("corosql_sessions_created_total",
		metric.WithDescription("Total sessions created by the Connection Factory"))
	m.waitersQueued, _ = meter.Int64UpDownCounter("corosql_waiters_queued",
		metric.WithDescription("Number of tasks currently queued for a session"))
	m.acquireFailed, _ = meter.Int64Counter("corosql_acquire_failed_total",
		metric.WithDescription("Acquire calls that failed at the Connection Factory"))
	m.queriesTotal, _ = meter.Int64Counter("corosql_queries_total",
		metric.WithDescription("Total queries executed"))
	m.queryDuration, _ = meter.Float64Histogram("corosql_query_duration_seconds",
		metric.WithDescription("Query execution duration"), metric.WithUnit("s"))
	m.txTotal, _ = meter.Int64Counter("corosql_transactions_total",
		metric.WithDescription("Total transaction attempts"))
	m.txDuration, _ = meter.Float64Histogram("corosql_transaction_duration_seconds",
		metric.WithDescription("Transaction attempt duration"), metric.WithUnit("s"))

	p.mu.Lock()
	p.metrics = m
	p.mu.Unlock()
}

// observeAcquire records an Acquire outcome. sessionsLive only moves on
// actual Connection Factory activity — a session the pool already held
// (idle reuse) isn't a new live session, so created is false for that path.
func (p *Pool) observeAcquire(created bool) {
	p.mu.Lock()
	m := p.metrics
	p.mu.Unlock()
	if m == nil {
		return
	}
	if !created {
		return
	}
	ctx := context.Background()
	m.sessionsLive.Add(ctx, 1)
	m.sessionsTotal.Add(ctx, 1)
}

// observeSessionClosed is sessionsLive's other half: called wherever a
// session is actually closed and removed from the live count, so the gauge
// tracks sessions currently open rather than sessions ever created.
func (p *Pool) observeSessionClosed() {
	p.mu.Lock()
	m := p.metrics
	p.mu.Unlock()
	if m == nil {
		return
	}
	m.sessionsLive.Add(context.Background(), -1)
}

func (p *Pool) observeAcquireFailed() {
	p.mu.Lock()
	m := p.metrics
	p.mu.Unlock()
	if m == nil {
		return
	}
	m.acquireFailed.Add(context.Background(), 1)
}

func (p *Pool) observeWait() {
	p.mu.Lock()
	m := p.metrics
	p.mu.Unlock()
	if m == nil {
		return
	}
	m.waitersQueued.Add(context.Background(), 1)
}

// observeWaitDone is observeWait's other half: called wherever a waiter
// leaves the queue, fulfilled, failed, or cancelled, so the gauge tracks
// waiters currently queued rather than waiters ever queued.
func (p *Pool) observeWaitDone() {
	p.mu.Lock()
	m := p.metrics
	p.mu.Unlock()
	if m == nil {
		return
	}
	m.waitersQueued.Add(context.Background(), -1)
}

func (p *Pool) recordQuery(ctx context.Context, shape ResultShape, duration time.Duration, err error) {
	p.mu.Lock()
	m := p.metrics
	p.mu.Unlock()
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("shape", string(shape)),
		attribute.String("status", status),
	)
	m.queriesTotal.Add(ctx, 1, attrs)
	m.queryDuration.Record(ctx, duration.Seconds(), attrs)
}

func (p *Pool) recordTransaction(ctx context.Context, attempt int, duration time.Duration, err error) {
	p.mu.Lock()
	m := p.metrics
	p.mu.Unlock()
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.txTotal.Add(ctx, 1, attrs)
	m.txDuration.Record(ctx, duration.Seconds(), attrs)
}

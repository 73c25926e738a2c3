package corosql

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/corosql/corosql"
	instrumentationVersion = "v0.1.0"
)

var tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(instrumentationVersion))

// EnableTracing enables OpenTelemetry spans around Execute and
// RunTransaction. Acquire is not traced.
func (p *Pool) EnableTracing() {
	p.mu.Lock()
	p.tracingEnabled = true
	p.mu.Unlock()
}

func (p *Pool) startSpan(ctx context.Context, operation, sql string) (context.Context, trace.Span) {
	p.mu.Lock()
	enabled := p.tracingEnabled
	p.mu.Unlock()
	if !enabled {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := tracer.Start(ctx, "corosql."+operation)
	span.SetAttributes(attribute.String("db.system", "mysql"), attribute.String("db.operation", operation))
	if sql != "" {
		span.SetAttributes(attribute.String("db.statement", sql))
	}
	return ctx, span
}

func (p *Pool) endSpan(span trace.Span, err error) {
	p.mu.Lock()
	enabled := p.tracingEnabled
	p.mu.Unlock()
	if !enabled {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

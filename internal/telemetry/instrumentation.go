package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes must stay low cardinality: operation names,
// client types and statuses only. File names and job ids go to logs.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span tagged with component and operation.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentClientOperation instruments a call on the source or destination client.
func (t *Telemetry) InstrumentClientOperation(ctx context.Context, client, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "client_"+operation, client, fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordClientOperation(ctx, client, operation, status)

	return err
}

// InstrumentFile traces one file transfer and tracks the active-transfer gauge.
// The outcome itself is recorded by the caller through RecordFile.
func (t *Telemetry) InstrumentFile(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	if t.filesActive != nil {
		t.filesActive.Add(ctx, 1)
		defer t.filesActive.Add(ctx, -1)
	}

	return t.InstrumentOperation(ctx, "mirror_file", "worker", fn)
}

// InstrumentJob traces a whole mirror job.
func (t *Telemetry) InstrumentJob(ctx context.Context, fn InstrumentedFunc) error {
	return t.InstrumentOperation(ctx, "mirror_job", "mirror", fn)
}

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a store operation.
//
// Usage:
//
//	ctx, span := telemetry.StartSpan(ctx, "sparse/accesscontrol", "acl.Check",
//	    attribute.String(telemetry.AttrZone, zone),
//	    attribute.String(telemetry.AttrPath, path),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
//
//	telemetry.AddEvent(span, "token.rejected",
//	    attribute.String(telemetry.AttrPrincipal, principal),
//	)
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys
const (
	// Access control
	AttrZone       = "acl.zone"
	AttrPath       = "acl.path"
	AttrPermission = "acl.permission"
	AttrAllowed    = "acl.allowed"
	AttrPrincipal  = "principal.id"

	// Authorizables
	AttrAuthorizableID   = "authorizable.id"
	AttrAuthorizableKind = "authorizable.kind"

	// Storage
	AttrColumnFamily = "storage.column_family"
	AttrBackend      = "storage.backend"

	// Sessions
	AttrSessionID = "session.id"
)

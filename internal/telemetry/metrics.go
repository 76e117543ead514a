package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics holds instruments for the shared object cache.
type CacheMetrics struct {
	Hits      metric.Int64Counter
	Misses    metric.Int64Counter
	Evictions metric.Int64Counter
}

// NewCacheMetrics creates the cache instruments under the given cache name.
func NewCacheMetrics(name string) (*CacheMetrics, error) {
	meter := otel.Meter("sparse/cache/" + name)

	hits, err := meter.Int64Counter(
		"cache.hit.count",
		metric.WithDescription("Cache lookups served from memory"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"cache.miss.count",
		metric.WithDescription("Cache lookups that fell through to storage"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	// Counted per trimmed entry, not per trim pass
	evictions, err := meter.Int64Counter(
		"cache.eviction.count",
		metric.WithDescription("Entries evicted by size trimming"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &CacheMetrics{Hits: hits, Misses: misses, Evictions: evictions}, nil
}

// RecordLookup records a cache hit or miss.
func (m *CacheMetrics) RecordLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.Hits.Add(ctx, 1)
		return
	}
	m.Misses.Add(ctx, 1)
}

// RecordEvictions records n evicted entries.
func (m *CacheMetrics) RecordEvictions(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Evictions.Add(ctx, int64(n))
}

// AccessMetrics holds instruments for permission checks and logins.
type AccessMetrics struct {
	Checks        metric.Int64Counter
	Denials       metric.Int64Counter
	LoginAttempts metric.Int64Counter
	LoginFailures metric.Int64Counter
}

// NewAccessMetrics creates metric instruments for access control telemetry.
func NewAccessMetrics() (*AccessMetrics, error) {
	meter := otel.Meter("sparse/accesscontrol")

	checks, err := meter.Int64Counter(
		"acl.check.count",
		metric.WithDescription("Total number of permission checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	denials, err := meter.Int64Counter(
		"acl.denied.count",
		metric.WithDescription("Permission checks that failed"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	loginAttempts, err := meter.Int64Counter(
		"auth.attempt.count",
		metric.WithDescription("Total number of login attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	loginFailures, err := meter.Int64Counter(
		"auth.failure.count",
		metric.WithDescription("Total number of failed login attempts"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	return &AccessMetrics{
		Checks:        checks,
		Denials:       denials,
		LoginAttempts: loginAttempts,
		LoginFailures: loginFailures,
	}, nil
}

// RecordCheck records one permission check for a zone.
func (a *AccessMetrics) RecordCheck(ctx context.Context, zone string, allowed bool) {
	if a == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrZone, zone),
		attribute.Bool(AttrAllowed, allowed),
	)
	a.Checks.Add(ctx, 1, attrs)
	if !allowed {
		a.Denials.Add(ctx, 1, attrs)
	}
}

// RecordLogin records a login attempt by method (password, trusted, administrative).
func (a *AccessMetrics) RecordLogin(ctx context.Context, method string, success bool) {
	if a == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("auth.method", method),
		attribute.Bool("auth.success", success),
	)
	a.LoginAttempts.Add(ctx, 1, attrs)
	if !success {
		a.LoginFailures.Add(ctx, 1, attrs)
	}
}

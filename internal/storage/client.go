// Package storage defines the keyed row contract every backend satisfies,
// the row addressing scheme that maps logical keys to physical row ids, an
// in-memory backend and the caching layer shared by all sessions.
package storage

import (
	"context"
)

// Row is one stored object: field name to value. Values are string,
// []string, int64, bool, float64 or []byte.
type Row map[string]any

type removedMarker struct{}

// Removed, used as a field value in Put, deletes that field.
var Removed any = removedMarker{}

// IsRemoved reports whether v is the Removed marker.
func IsRemoved(v any) bool {
	_, ok := v.(removedMarker)
	return ok
}

// Client is the storage contract consumed by the managers. It knows nothing
// about security. Implementations address rows only through a RowHasher and
// guarantee atomicity per row, nothing more.
type Client interface {
	// Get returns the row, or nil without error when it does not exist.
	Get(ctx context.Context, keyspace, columnFamily, key string) (Row, error)
	// Put merges row into the stored row, creating it when absent.
	Put(ctx context.Context, keyspace, columnFamily, key string, row Row) error
	// Insert stores row only when no row exists under key. It reports
	// false, leaving the stored row untouched, when one already does.
	Insert(ctx context.Context, keyspace, columnFamily, key string, row Row) (bool, error)
	// Remove deletes the row. Removing a missing row is not an error.
	Remove(ctx context.Context, keyspace, columnFamily, key string) error
	// Find returns rows of the column family whose fields equal every
	// criterion. A []string field matches when it contains the value.
	Find(ctx context.Context, keyspace, columnFamily string, criteria map[string]any) (RowIterator, error)
	Close() error
}

// RowIterator is a lazy, single-pass sequence of rows.
//
//	it, err := client.Find(ctx, ks, cf, criteria)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//	    row := it.Row()
//	}
//	if err := it.Err(); err != nil { ... }
type RowIterator interface {
	Next() bool
	// Key is the logical key of the current row.
	Key() string
	Row() Row
	Err() error
	Close() error
}

// Clone returns a copy of r that shares no mutable slices with it.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		switch tv := v.(type) {
		case []string:
			out[k] = append([]string(nil), tv...)
		case []byte:
			out[k] = append([]byte(nil), tv...)
		default:
			out[k] = v
		}
	}
	return out
}

// String returns the field as a string, or "" when absent or not a string.
func (r Row) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Merge applies changes to r in place, honouring Removed.
func (r Row) Merge(changes Row) {
	for k, v := range changes {
		if IsRemoved(v) {
			delete(r, k)
			continue
		}
		r[k] = v
	}
}

// Matches reports whether r satisfies every equality criterion.
func (r Row) Matches(criteria map[string]any) bool {
	for field, want := range criteria {
		got, ok := r[field]
		if !ok || !valueMatches(got, want) {
			return false
		}
	}
	return true
}

func valueMatches(got, want any) bool {
	switch g := got.(type) {
	case []string:
		w, ok := want.(string)
		if !ok {
			return false
		}
		for _, s := range g {
			if s == w {
				return true
			}
		}
		return false
	case []byte:
		w, ok := want.([]byte)
		return ok && string(g) == string(w)
	case int:
		return valueMatches(int64(g), want)
	}
	if w, ok := want.(int); ok {
		want = int64(w)
	}
	return got == want
}

package authorizable

import (
	"context"
	"fmt"

	"github.com/zathomas/sparsemapcontent/internal/accesscontrol"
	"github.com/zathomas/sparsemapcontent/internal/storage"
)

// Iterator walks search results the session may read.
type Iterator struct {
	m   *Manager
	ctx context.Context
	it  storage.RowIterator
	cur Authorizable
	err error
}

// Next advances to the next readable authorizable.
func (i *Iterator) Next() bool {
	for i.it.Next() {
		row := i.it.Row()
		id := row.String(IDField)
		if id == "" {
			id = i.it.Key()
		}
		a, err := i.m.readable(i.ctx, id, row)
		if err != nil {
			i.err = err
			return false
		}
		if a != nil {
			i.cur = a
			return true
		}
	}
	i.cur = nil
	if i.err == nil {
		i.err = i.it.Err()
	}
	return false
}

// Authorizable returns the current result.
func (i *Iterator) Authorizable() Authorizable { return i.cur }

func (i *Iterator) Err() error { return i.err }

func (i *Iterator) Close() error { return i.it.Close() }

// Collect drains the iterator.
func (i *Iterator) Collect() ([]Authorizable, error) {
	defer i.Close()
	var out []Authorizable
	for i.Next() {
		out = append(out, i.Authorizable())
	}
	return out, i.Err()
}

func (m *Manager) readable(ctx context.Context, id string, row storage.Row) (Authorizable, error) {
	if !m.isSelf(id) {
		ok, err := m.access.Can(ctx, accesscontrol.ZoneAuthorizables, id, accesscontrol.Read)
		if err != nil || !ok {
			return nil, err
		}
	}
	pacl, err := m.access.PropertyACL(ctx, accesscontrol.ZoneAuthorizables, id)
	if err != nil {
		return nil, err
	}
	return decode(id, row, pacl), nil
}

// FindByProperty returns authorizables of kind whose property equals
// value. List properties such as principals match when they contain value.
func (m *Manager) FindByProperty(ctx context.Context, name string, value any, kind Kind) (*Iterator, error) {
	return m.Search(ctx, map[string]any{name: value}, "", kind)
}

// Search finds authorizables matching every criterion and the optional
// where expression. Results the session cannot read are skipped.
func (m *Manager) Search(ctx context.Context, criteria map[string]any, where string, kind Kind) (*Iterator, error) {
	if _, ok := criteria[PasswordField]; ok {
		return nil, fmt.Errorf("search on %s is not allowed", PasswordField)
	}
	pred, err := storage.Where(where)
	if err != nil {
		return nil, err
	}
	it, err := m.store.Find(ctx, m.keyspace, m.cf, criteria)
	if err != nil {
		return nil, fmt.Errorf("search authorizables: %w", err)
	}
	filtered := storage.Filter(it, func(row storage.Row) bool {
		if !matchesKind(row, kind) {
			return false
		}
		visible := make(storage.Row, len(row))
		for k, v := range row {
			if k != PasswordField {
				visible[k] = v
			}
		}
		return pred(visible)
	})
	return &Iterator{m: m, ctx: ctx, it: filtered}, nil
}

package content

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zathomas/sparsemapcontent/internal/accesscontrol"
	"github.com/zathomas/sparsemapcontent/internal/events"
	"github.com/zathomas/sparsemapcontent/internal/storage"
	"github.com/zathomas/sparsemapcontent/internal/telemetry"
)

const tracerName = "sparse/content"

// Dependencies groups what a Manager needs.
type Dependencies struct {
	Store        storage.Client
	Keyspace     string
	ColumnFamily string
	Access       *accesscontrol.Manager
	Listener     events.Listener
	Logger       zerolog.Logger
}

// Manager reads and writes content for one session.
type Manager struct {
	store    storage.Client
	keyspace string
	cf       string
	access   *accesscontrol.Manager
	listener events.Listener
	logger   zerolog.Logger
}

type childInvalidator interface {
	InvalidateChildren(keyspace, columnFamily, key string)
}

// NewManager creates a Manager.
func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Store == nil || deps.Access == nil {
		return nil, fmt.Errorf("content manager requires a store and an access manager")
	}
	listener := deps.Listener
	if listener == nil {
		listener = events.Nop{}
	}
	return &Manager{
		store:    deps.Store,
		keyspace: deps.Keyspace,
		cf:       deps.ColumnFamily,
		access:   deps.Access,
		listener: listener,
		logger:   deps.Logger.With().Str("component", "content").Logger(),
	}, nil
}

// Get returns the item at path, or nil when there is none. Unreadable
// properties are left out.
func (m *Manager) Get(ctx context.Context, path string) (*Content, error) {
	path = accesscontrol.NormalizePath(path)
	if err := m.access.Check(ctx, accesscontrol.ZoneContent, path, accesscontrol.Read); err != nil {
		return nil, err
	}
	row, err := m.store.Get(ctx, m.keyspace, m.cf, path)
	if err != nil {
		return nil, fmt.Errorf("get content %s: %w", path, err)
	}
	if row == nil {
		return nil, nil
	}
	return m.decode(ctx, path, row)
}

func (m *Manager) decode(ctx context.Context, path string, row storage.Row) (*Content, error) {
	pacl, err := m.access.PropertyACL(ctx, accesscontrol.ZoneContent, path)
	if err != nil {
		return nil, err
	}
	return load(path, row, pacl), nil
}

// Exists reports whether a readable item is stored at path.
func (m *Manager) Exists(ctx context.Context, path string) (bool, error) {
	path = accesscontrol.NormalizePath(path)
	ok, err := m.access.Can(ctx, accesscontrol.ZoneContent, path, accesscontrol.Read)
	if err != nil || !ok {
		return false, err
	}
	row, err := m.store.Get(ctx, m.keyspace, m.cf, path)
	if err != nil {
		return false, fmt.Errorf("get content %s: %w", path, err)
	}
	return row != nil, nil
}

// Update saves c. Requires Write on its path, which new items inherit from
// their parents. Changes to properties the session may not write, judged
// against the ACLs at save time, are dropped and reverted on c.
func (m *Manager) Update(ctx context.Context, c *Content) error {
	if c == nil || !c.IsModified() {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "content.Update",
		attribute.String(telemetry.AttrPath, c.path),
	)
	defer span.End()

	if err := m.access.Check(ctx, accesscontrol.ZoneContent, c.path, accesscontrol.Write); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	before, err := m.store.Get(ctx, m.keyspace, m.cf, c.path)
	if err != nil {
		return fmt.Errorf("update content %s: %w", c.path, err)
	}
	pacl, err := m.access.PropertyACL(ctx, accesscontrol.ZoneContent, c.path)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	c.restrict(pacl, before)
	if before != nil && len(c.changes) == 0 {
		c.saved()
		return nil
	}
	changes := c.pending()
	if before == nil {
		changes[PathField] = c.path
		changes[ParentField] = parentOf(c.path)
	}
	if err := m.store.Put(ctx, m.keyspace, m.cf, c.path, changes); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("update content %s: %w", c.path, err)
	}
	c.saved()
	m.listener.OnUpdate(ctx, events.Update(events.ZoneContent, c.path, m.access.Subject().UserID, events.ResourceContent, before == nil, before))
	return nil
}

// Delete removes the item at path and drops cached copies of it and of
// everything below it. Deleting a missing item is not an error.
func (m *Manager) Delete(ctx context.Context, path string) error {
	path = accesscontrol.NormalizePath(path)
	if err := m.access.Check(ctx, accesscontrol.ZoneContent, path, accesscontrol.Delete); err != nil {
		return err
	}
	before, err := m.store.Get(ctx, m.keyspace, m.cf, path)
	if err != nil {
		return fmt.Errorf("delete content %s: %w", path, err)
	}
	if before == nil {
		return nil
	}
	if err := m.store.Remove(ctx, m.keyspace, m.cf, path); err != nil {
		return fmt.Errorf("delete content %s: %w", path, err)
	}
	if inv, ok := m.store.(childInvalidator); ok {
		inv.InvalidateChildren(m.keyspace, m.cf, path)
	}
	m.listener.OnDelete(ctx, events.Delete(events.ZoneContent, path, m.access.Subject().UserID, events.ResourceContent, before))
	m.logger.Debug().Str("path", path).Str("by", m.access.Subject().UserID).Msg("content deleted")
	return nil
}

// ListChildren returns the readable items directly below path.
func (m *Manager) ListChildren(ctx context.Context, path string) (*Iterator, error) {
	return m.Find(ctx, map[string]any{ParentField: accesscontrol.NormalizePath(path)}, "")
}

// Find returns readable items whose properties equal every criterion and
// match the optional where expression.
func (m *Manager) Find(ctx context.Context, criteria map[string]any, where string) (*Iterator, error) {
	pred, err := storage.Where(where)
	if err != nil {
		return nil, err
	}
	it, err := m.store.Find(ctx, m.keyspace, m.cf, criteria)
	if err != nil {
		return nil, fmt.Errorf("find content: %w", err)
	}
	return &Iterator{m: m, ctx: ctx, it: storage.Filter(it, pred)}, nil
}

// StoreToken signs token for the object at zone and target and saves it
// at path. Signing needs WriteACL on the target; saving needs Write on
// path.
func (m *Manager) StoreToken(ctx context.Context, path string, token *accesscontrol.Token, zone accesscontrol.Zone, target string) error {
	if err := m.access.SignContentToken(ctx, token, zone, target); err != nil {
		return err
	}
	c := New(path, token.Properties)
	if err := m.Update(ctx, c); err != nil {
		return err
	}
	token.Path = c.Path()
	return nil
}

// Iterator walks readable results.
type Iterator struct {
	m   *Manager
	ctx context.Context
	it  storage.RowIterator
	cur *Content
	err error
}

func (i *Iterator) Next() bool {
	for i.it.Next() {
		row := i.it.Row()
		path := row.String(PathField)
		if path == "" {
			path = i.it.Key()
		}
		ok, err := i.m.access.Can(i.ctx, accesscontrol.ZoneContent, path, accesscontrol.Read)
		if err == nil && ok {
			i.cur, err = i.m.decode(i.ctx, path, row)
			if err == nil {
				return true
			}
		}
		if err != nil {
			i.err = err
			return false
		}
	}
	i.cur = nil
	if i.err == nil {
		i.err = i.it.Err()
	}
	return false
}

// Content returns the current item.
func (i *Iterator) Content() *Content { return i.cur }

func (i *Iterator) Err() error { return i.err }

func (i *Iterator) Close() error { return i.it.Close() }

// Collect drains the iterator.
func (i *Iterator) Collect() ([]*Content, error) {
	defer i.Close()
	var out []*Content
	for i.Next() {
		out = append(out, i.Content())
	}
	return out, i.Err()
}

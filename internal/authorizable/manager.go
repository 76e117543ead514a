package authorizable

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zathomas/sparsemapcontent/internal/accesscontrol"
	"github.com/zathomas/sparsemapcontent/internal/auth"
	"github.com/zathomas/sparsemapcontent/internal/errdefs"
	"github.com/zathomas/sparsemapcontent/internal/events"
	"github.com/zathomas/sparsemapcontent/internal/storage"
	"github.com/zathomas/sparsemapcontent/internal/telemetry"
)

const tracerName = "sparse/authorizable"

// Admin zone objects that gate creation and principal changes.
const (
	AdminUsersPath  = "users"
	AdminGroupsPath = "groups"
)

// Dependencies groups what a Manager needs.
type Dependencies struct {
	Store        storage.Client
	Keyspace     string
	ColumnFamily string
	Access       *accesscontrol.Manager
	Listener     events.Listener
	Logger       zerolog.Logger
}

// Manager reads and writes authorizables on behalf of one session.
type Manager struct {
	store    storage.Client
	keyspace string
	cf       string
	access   *accesscontrol.Manager
	listener events.Listener
	logger   zerolog.Logger
}

// invalidator is implemented by the caching client.
type invalidator interface {
	Invalidate(keyspace, columnFamily, key string)
	InvalidateColumnFamily(keyspace, columnFamily string)
}

type persistable interface {
	pending() storage.Row
	saved()
}

// NewManager creates a Manager.
func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Store == nil || deps.Access == nil {
		return nil, fmt.Errorf("authorizable manager requires a store and an access manager")
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
		logger:   deps.Logger.With().Str("component", "authorizable").Logger(),
	}, nil
}

// CurrentUserID is the id of the user the manager acts for.
func (m *Manager) CurrentUserID() string {
	return m.access.Subject().UserID
}

func (m *Manager) isSelf(id string) bool {
	return id == m.access.Subject().UserID
}

func (m *Manager) load(ctx context.Context, id string) (storage.Row, error) {
	row, err := m.store.Get(ctx, m.keyspace, m.cf, id)
	if err != nil {
		return nil, fmt.Errorf("load authorizable %s: %w", id, err)
	}
	return row, nil
}

// FindAuthorizable returns the user or group with id, or nil when there is
// none. Unreadable properties are left out.
func (m *Manager) FindAuthorizable(ctx context.Context, id string) (Authorizable, error) {
	if id == "" {
		return nil, nil
	}
	if !m.isSelf(id) {
		if err := m.access.Check(ctx, accesscontrol.ZoneAuthorizables, id, accesscontrol.Read); err != nil {
			return nil, err
		}
	}
	row, err := m.load(ctx, id)
	if err != nil || row == nil {
		return nil, err
	}
	pacl, err := m.access.PropertyACL(ctx, accesscontrol.ZoneAuthorizables, id)
	if err != nil {
		return nil, err
	}
	return decode(id, row, pacl), nil
}

// CreateUser stores a new user. It returns false, leaving the stored row
// alone, when the id is taken. props may carry an initial "principals"
// list; a "type" entry is ignored. An empty password creates a user that
// cannot log in with a password.
func (m *Manager) CreateUser(ctx context.Context, id, name, password string, props map[string]any) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "authorizable.CreateUser",
		attribute.String(telemetry.AttrAuthorizableID, id),
		attribute.String(telemetry.AttrAuthorizableKind, KindUser.String()),
	)
	defer span.End()

	row, err := m.newRow(ctx, id, name, typeUser, AdminUsersPath, props)
	if err != nil || row == nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	if password != "" {
		hash, err := auth.HashPassword(password)
		if err != nil {
			return false, fmt.Errorf("create user %s: %w", id, err)
		}
		row[PasswordField] = hash
	}
	inserted, err := m.store.Insert(ctx, m.keyspace, m.cf, id, row)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("create user %s: %w", id, err)
	}
	if !inserted {
		m.logger.Debug().Str("id", id).Msg("authorizable exists, not created")
		return false, nil
	}

	// Users own their record.
	elevated, release := accesscontrol.Elevate(ctx)
	defer release()
	if err := m.access.SetACL(elevated, accesscontrol.ZoneAuthorizables, id, accesscontrol.Grant(id, accesscontrol.Anything)); err != nil {
		return false, fmt.Errorf("create user %s: %w", id, err)
	}

	m.listener.OnUpdate(ctx, events.Update(events.ZoneAuthorizables, id, m.CurrentUserID(), events.ResourceUser, true, nil))
	m.logger.Info().Str("id", id).Str("by", m.CurrentUserID()).Msg("user created")
	return true, nil
}

// CreateGroup stores a new group. props may carry "principals" and
// "members"; existing members receive the group as a principal.
func (m *Manager) CreateGroup(ctx context.Context, id, name string, props map[string]any) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "authorizable.CreateGroup",
		attribute.String(telemetry.AttrAuthorizableID, id),
		attribute.String(telemetry.AttrAuthorizableKind, KindGroup.String()),
	)
	defer span.End()

	row, err := m.newRow(ctx, id, name, typeGroup, AdminGroupsPath, props)
	if err != nil || row == nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	members := stringList(props[MembersField])
	row[MembersField] = members
	inserted, err := m.store.Insert(ctx, m.keyspace, m.cf, id, row)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("create group %s: %w", id, err)
	}
	if !inserted {
		m.logger.Debug().Str("id", id).Msg("authorizable exists, not created")
		return false, nil
	}
	if err := m.propagate(ctx, id, members, nil); err != nil {
		return false, err
	}

	m.listener.OnUpdate(ctx, events.Update(events.ZoneAuthorizables, id, m.CurrentUserID(), events.ResourceGroup, true, nil))
	m.logger.Info().Str("id", id).Str("by", m.CurrentUserID()).Int("members", len(members)).Msg("group created")
	return true, nil
}

// newRow checks creation rights and builds the initial row. A nil row
// without error means the id is taken. The caller still inserts with
// Insert, which settles a race between two creates of one id.
func (m *Manager) newRow(ctx context.Context, id, name, kind, adminPath string, props map[string]any) (storage.Row, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("authorizable id must not be empty")
	}
	if err := m.access.Check(ctx, accesscontrol.ZoneAdmin, adminPath, accesscontrol.Write); err != nil {
		return nil, err
	}
	existing, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		m.logger.Debug().Str("id", id).Msg("authorizable exists, not created")
		return nil, nil
	}

	row := storage.Row{}
	for k, v := range props {
		if !managed[k] && v != nil {
			row[k] = v
		}
	}
	row[IDField] = id
	row[TypeField] = kind
	if name != "" {
		row[NameField] = name
	}
	row[PrincipalsField] = stringList(props[PrincipalsField])
	return row, nil
}

// UpdateAuthorizable saves local changes. Users may always save their own
// record; anyone else needs Write on it. Changing principals needs Write
// on the admin users or groups object. Membership changes are pushed to
// the affected members.
func (m *Manager) UpdateAuthorizable(ctx context.Context, a Authorizable) error {
	if a == nil || !a.IsModified() {
		return nil
	}
	id := a.ID()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "authorizable.Update",
		attribute.String(telemetry.AttrAuthorizableID, id),
	)
	defer span.End()

	if !m.isSelf(id) {
		if err := m.access.Check(ctx, accesscontrol.ZoneAuthorizables, id, accesscontrol.Write); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}
	if a.state().pchanged {
		adminPath := AdminUsersPath
		if a.IsGroup() {
			adminPath = AdminGroupsPath
		}
		if err := m.access.Check(ctx, accesscontrol.ZoneAdmin, adminPath, accesscontrol.Write); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}

	before, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if before == nil {
		return fmt.Errorf("update authorizable %s: %w", id, errdefs.ErrNotFound)
	}
	delete(before, PasswordField)

	pacl, err := m.access.PropertyACL(ctx, accesscontrol.ZoneAuthorizables, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	a.state().restrict(pacl, before)
	if !a.IsModified() {
		return nil
	}

	p := a.(persistable)
	if err := m.store.Put(ctx, m.keyspace, m.cf, id, p.pending()); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("update authorizable %s: %w", id, err)
	}
	resource := events.ResourceUser
	if g, ok := a.(*Group); ok {
		resource = events.ResourceGroup
		if err := m.propagate(ctx, id, g.added, g.removed); err != nil {
			return err
		}
	}
	p.saved()

	m.listener.OnUpdate(ctx, events.Update(events.ZoneAuthorizables, id, m.CurrentUserID(), resource, false, before))
	return nil
}

// propagate adds or removes the group principal on members. It runs
// elevated: the right to manage the group is the right to change
// membership. Missing members are skipped.
func (m *Manager) propagate(ctx context.Context, groupID string, added, removed []string) error {
	ctx, release := accesscontrol.Elevate(ctx)
	defer release()

	apply := func(memberID string, add bool) error {
		row, err := m.load(ctx, memberID)
		if err != nil {
			return err
		}
		if row == nil {
			m.logger.Debug().Str("group", groupID).Str("member", memberID).Msg("member does not exist")
			return nil
		}
		member := decode(memberID, row, nil)
		if add {
			member.AddPrincipal(groupID)
		} else {
			member.RemovePrincipal(groupID)
		}
		if !member.state().pchanged {
			return nil
		}
		if err := m.store.Put(ctx, m.keyspace, m.cf, memberID, storage.Row{PrincipalsField: member.state().principals}); err != nil {
			return fmt.Errorf("update principals of %s: %w", memberID, err)
		}
		return nil
	}
	for _, id := range added {
		if err := apply(id, true); err != nil {
			return err
		}
	}
	for _, id := range removed {
		if err := apply(id, false); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an authorizable. Deleting a missing id is not an error;
// bootstrap identities cannot be deleted.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if auth.IsReservedID(id) {
		return errdefs.AccessDenied(m.CurrentUserID(), string(accesscontrol.ZoneAuthorizables), id, accesscontrol.Delete.String())
	}
	if err := m.access.Check(ctx, accesscontrol.ZoneAuthorizables, id, accesscontrol.Delete); err != nil {
		return err
	}
	row, err := m.load(ctx, id)
	if err != nil || row == nil {
		return err
	}
	resource := events.ResourceUser
	if row.String(TypeField) == typeGroup {
		resource = events.ResourceGroup
		if err := m.propagate(ctx, id, nil, stringList(row[MembersField])); err != nil {
			return err
		}
	}
	if err := m.store.Remove(ctx, m.keyspace, m.cf, id); err != nil {
		return fmt.Errorf("delete authorizable %s: %w", id, err)
	}
	delete(row, PasswordField)
	m.listener.OnDelete(ctx, events.Delete(events.ZoneAuthorizables, id, m.CurrentUserID(), resource, row))
	m.logger.Info().Str("id", id).Str("by", m.CurrentUserID()).Msg("authorizable deleted")
	return nil
}

// ChangePassword sets a new password. Administrators may change anyone's;
// users may change their own when oldPassword matches.
func (m *Manager) ChangePassword(ctx context.Context, id, newPassword, oldPassword string) error {
	subject := m.access.Subject()
	if !subject.IsAdmin() && !m.isSelf(id) {
		return errdefs.AccessDenied(subject.UserID, string(accesscontrol.ZoneAuthorizables), id, "change-password")
	}
	row, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if row == nil || row.String(TypeField) == typeGroup {
		return fmt.Errorf("change password for %s: %w", id, errdefs.ErrNotFound)
	}
	if !subject.IsAdmin() && !auth.CheckPassword(row.String(PasswordField), oldPassword) {
		return errdefs.AccessDenied(subject.UserID, string(accesscontrol.ZoneAuthorizables), id, "change-password")
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("change password for %s: %w", id, err)
	}
	if err := m.store.Put(ctx, m.keyspace, m.cf, id, storage.Row{PasswordField: hash}); err != nil {
		return fmt.Errorf("change password for %s: %w", id, err)
	}
	return nil
}

// TriggerRefresh drops the cached copy of one authorizable.
func (m *Manager) TriggerRefresh(id string) {
	if inv, ok := m.store.(invalidator); ok {
		inv.Invalidate(m.keyspace, m.cf, id)
	}
}

// TriggerRefreshAll drops every cached authorizable.
func (m *Manager) TriggerRefreshAll() {
	if inv, ok := m.store.(invalidator); ok {
		inv.InvalidateColumnFamily(m.keyspace, m.cf)
	}
}

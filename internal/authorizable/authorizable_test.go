package authorizable

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/zathomas/sparsemapcontent/internal/accesscontrol"
	"github.com/zathomas/sparsemapcontent/internal/auth"
	"github.com/zathomas/sparsemapcontent/internal/cache"
	"github.com/zathomas/sparsemapcontent/internal/errdefs"
	"github.com/zathomas/sparsemapcontent/internal/events"
	"github.com/zathomas/sparsemapcontent/internal/storage"
)

func init() {
	auth.PasswordCost = bcrypt.MinCost
}

type fixture struct {
	store *storage.CachingClient
	acl   *accesscontrol.Service
	bus   *events.Bus
	authn *Authenticator
	admin *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewCachingClient(
		storage.NewMemoryClient(storage.MustRowHasher(storage.DefaultRowHashAlgorithm)),
		cache.New[storage.Row](100),
	)
	bus := events.NewBus(64)
	svc, err := accesscontrol.NewService(accesscontrol.Dependencies{
		Store:        store,
		Keyspace:     "n",
		ColumnFamily: "ac",
		Listener:     bus,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	f := &fixture{store: store, acl: svc, bus: bus, authn: NewAuthenticator(store, "n", "au", zerolog.Nop())}
	f.admin = f.managerFor(t, accesscontrol.Subject{UserID: auth.AdminUser})

	// Authorizables are world readable.
	require.NoError(t, f.admin.access.SetACL(context.Background(), accesscontrol.ZoneAuthorizables, accesscontrol.RootPath,
		accesscontrol.Grant(auth.Everyone, accesscontrol.Read)))
	return f
}

func (f *fixture) managerFor(t *testing.T, s accesscontrol.Subject) *Manager {
	t.Helper()
	m, err := NewManager(Dependencies{
		Store:        f.store,
		Keyspace:     "n",
		ColumnFamily: "au",
		Access:       f.acl.ForSubject(s),
		Listener:     f.bus,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) login(t *testing.T, id, password string) *Manager {
	t.Helper()
	u, err := f.authn.Authenticate(context.Background(), id, password)
	require.NoError(t, err)
	require.NotNil(t, u, "login %s", id)
	return f.managerFor(t, u.Subject())
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.admin.CreateUser(ctx, "testuser", "Test User", "test", map[string]any{
		TypeField: typeGroup,
		"email":   "testuser@example.com",
	})
	require.NoError(t, err)
	assert.True(t, created)

	again, err := f.admin.CreateUser(ctx, "testuser", "Test User", "test", nil)
	require.NoError(t, err)
	assert.False(t, again, "duplicate create must not succeed")

	a, err := f.admin.FindAuthorizable(ctx, "testuser")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.False(t, a.IsGroup(), "a type property cannot turn a user into a group")
	assert.Equal(t, "Test User", a.Name())
	assert.Equal(t, []string{auth.Everyone}, a.Principals())
	_, hasPassword := a.Property(PasswordField)
	assert.False(t, hasPassword)

	var createdEvents []events.Event
	for len(f.bus.Subscribe()) > 0 {
		e := <-f.bus.Subscribe()
		if e.Topic == events.Topic(events.ZoneAuthorizables, events.KindCreated) && e.ResourceType != events.ResourceACL {
			createdEvents = append(createdEvents, e)
		}
	}
	require.Len(t, createdEvents, 1)
	assert.Equal(t, "testuser", createdEvents[0].Path)
	assert.Equal(t, events.ResourceUser, createdEvents[0].ResourceType)
	assert.Equal(t, auth.AdminUser, createdEvents[0].UserID)

	missing, err := f.admin.FindAuthorizable(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateRequiresAdminZoneWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.admin.CreateUser(ctx, "user1", "", "pw1", nil)
	require.NoError(t, err)

	user1 := f.login(t, "user1", "pw1")
	_, err = user1.CreateUser(ctx, "user2", "", "pw2", nil)
	assert.True(t, errdefs.IsAccessDenied(err))
	_, err = user1.CreateGroup(ctx, "g", "", nil)
	assert.True(t, errdefs.IsAccessDenied(err))

	require.NoError(t, f.acl.Admin().Apply(AdminUsersPath, []accesscontrol.Modification{
		accesscontrol.Grant("user1", accesscontrol.Write),
	}))
	created, err := user1.CreateUser(ctx, "user2", "", "pw2", nil)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestGroupMembershipPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"user1", "user2"} {
		_, err := f.admin.CreateUser(ctx, id, "", "pw", nil)
		require.NoError(t, err)
	}
	_, err := f.admin.CreateUser(ctx, "user3", "", "pw", map[string]any{
		PrincipalsField: "administrators;testers",
	})
	require.NoError(t, err)

	created, err := f.admin.CreateGroup(ctx, "testgroup", "Test Group", map[string]any{
		MembersField: "user1;user2",
	})
	require.NoError(t, err)
	require.True(t, created)

	u1, err := f.admin.FindAuthorizable(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, []string{"testgroup", auth.Everyone}, u1.Principals())

	a, err := f.admin.FindAuthorizable(ctx, "testgroup")
	require.NoError(t, err)
	g, ok := a.(*Group)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"user1", "user2"}, g.Members())

	g.AddMember("user3")
	g.RemoveMember("user2")
	assert.True(t, g.IsModified())
	require.NoError(t, f.admin.UpdateAuthorizable(ctx, g))
	assert.False(t, g.IsModified())

	u3, err := f.admin.FindAuthorizable(ctx, "user3")
	require.NoError(t, err)
	assert.Equal(t, []string{"administrators", "testers", "testgroup", auth.Everyone}, u3.Principals())

	u2, err := f.admin.FindAuthorizable(ctx, "user2")
	require.NoError(t, err)
	assert.Equal(t, []string{auth.Everyone}, u2.Principals())

	a, err = f.admin.FindAuthorizable(ctx, "testgroup")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user1", "user3"}, a.(*Group).Members())

	require.NoError(t, f.admin.Delete(ctx, "testgroup"))
	u1, err = f.admin.FindAuthorizable(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, []string{auth.Everyone}, u1.Principals())
}

func TestPropertyPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"user1", "user2"} {
		_, err := f.admin.CreateUser(ctx, id, "", "pw", map[string]any{
			"public":    "p",
			"private":   "secret",
			"protected": "fixed",
		})
		require.NoError(t, err)
	}
	// user1 may not change its own protected property.
	require.NoError(t, f.admin.access.SetACL(ctx, accesscontrol.ZoneAuthorizables, "user1",
		accesscontrol.DenyProperty("user1", "protected", accesscontrol.WriteProperty)))
	// Nobody but user2 reads user2's private property.
	require.NoError(t, f.admin.access.SetACL(ctx, accesscontrol.ZoneAuthorizables, "user2",
		accesscontrol.DenyProperty(auth.Everyone, "private", accesscontrol.ReadProperty),
		accesscontrol.GrantProperty("user2", "private", accesscontrol.ReadProperty)))

	user1 := f.login(t, "user1", "pw")

	self, err := user1.FindAuthorizable(ctx, "user1")
	require.NoError(t, err)
	self.SetProperty("private", "changed")
	self.SetProperty("protected", "changed")
	self.SetProperty(PrincipalsField, "administrators")
	require.NoError(t, user1.UpdateAuthorizable(ctx, self))

	stored, err := f.admin.FindAuthorizable(ctx, "user1")
	require.NoError(t, err)
	v, _ := stored.Property("private")
	assert.Equal(t, "changed", v)
	v, _ = stored.Property("protected")
	assert.Equal(t, "fixed", v)
	assert.Equal(t, []string{auth.Everyone}, stored.Principals())

	other, err := user1.FindAuthorizable(ctx, "user2")
	require.NoError(t, err)
	_, ok := other.Property("private")
	assert.False(t, ok, "unreadable property must be hidden")
	v, _ = other.Property("public")
	assert.Equal(t, "p", v)

	other.SetProperty("private", "x")
	_, ok = other.Property("private")
	assert.False(t, ok, "set of an unreadable property is ignored")

	other.SetProperty("public", "x")
	err = user1.UpdateAuthorizable(ctx, other)
	assert.True(t, errdefs.IsAccessDenied(err))

	user2 := f.login(t, "user2", "pw")
	own, err := user2.FindAuthorizable(ctx, "user2")
	require.NoError(t, err)
	v, _ = own.Property("private")
	assert.Equal(t, "secret", v)
}

func TestPrincipalChangesNeedAdminZone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.admin.CreateUser(ctx, "user1", "", "pw", nil)
	require.NoError(t, err)

	user1 := f.login(t, "user1", "pw")
	self, err := user1.FindAuthorizable(ctx, "user1")
	require.NoError(t, err)
	self.AddPrincipal(auth.Administrators)
	err = user1.UpdateAuthorizable(ctx, self)
	assert.True(t, errdefs.IsAccessDenied(err))

	stored, err := f.admin.FindAuthorizable(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, []string{auth.Everyone}, stored.Principals())
}

func TestFindByProperty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.admin.CreateUser(ctx, "alice", "", "pw", map[string]any{"dept": "eng", "level": "senior"})
	require.NoError(t, err)
	_, err = f.admin.CreateUser(ctx, "bob", "", "pw", map[string]any{"dept": "eng", "level": "junior"})
	require.NoError(t, err)
	_, err = f.admin.CreateGroup(ctx, "engineers", "", map[string]any{"dept": "eng", MembersField: "alice"})
	require.NoError(t, err)

	ids := func(it *Iterator, err error) []string {
		t.Helper()
		require.NoError(t, err)
		found, err := it.Collect()
		require.NoError(t, err)
		var out []string
		for _, a := range found {
			out = append(out, a.ID())
		}
		return out
	}

	assert.ElementsMatch(t, []string{"alice", "bob", "engineers"}, ids(f.admin.FindByProperty(ctx, "dept", "eng", KindAny)))
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids(f.admin.FindByProperty(ctx, "dept", "eng", KindUser)))
	assert.ElementsMatch(t, []string{"engineers"}, ids(f.admin.FindByProperty(ctx, "dept", "eng", KindGroup)))
	assert.ElementsMatch(t, []string{"alice"}, ids(f.admin.FindByProperty(ctx, PrincipalsField, "engineers", KindUser)))
	assert.ElementsMatch(t, []string{"alice"}, ids(f.admin.Search(ctx, map[string]any{"dept": "eng"}, `level == "senior"`, KindUser)))

	_, err = f.admin.Search(ctx, map[string]any{PasswordField: "x"}, "", KindAny)
	assert.Error(t, err)
	_, err = f.admin.Search(ctx, nil, "level ==", KindAny)
	assert.Error(t, err)

	// Rows the session cannot read are skipped.
	require.NoError(t, f.admin.access.SetACL(ctx, accesscontrol.ZoneAuthorizables, "bob",
		accesscontrol.DenyTo(auth.Everyone, accesscontrol.Read)))
	alice := f.login(t, "alice", "pw")
	assert.ElementsMatch(t, []string{"alice", "engineers"}, ids(alice.FindByProperty(ctx, "dept", "eng", KindAny)))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.admin.CreateUser(ctx, "user1", "", "pw", nil)
	require.NoError(t, err)

	user1 := f.login(t, "user1", "pw")
	err = user1.Delete(ctx, auth.AdminUser)
	assert.True(t, errdefs.IsAccessDenied(err))
	err = f.admin.Delete(ctx, auth.AnonymousUser)
	assert.True(t, errdefs.IsAccessDenied(err))

	require.NoError(t, f.admin.Delete(ctx, "missing"))
	require.NoError(t, f.admin.Delete(ctx, "user1"))
	gone, err := f.admin.FindAuthorizable(ctx, "user1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.admin.CreateUser(ctx, "user1", "", "pw1", nil)
	require.NoError(t, err)
	_, err = f.admin.CreateGroup(ctx, "group1", "", nil)
	require.NoError(t, err)

	u, err := f.authn.Authenticate(ctx, "user1", "pw1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "user1", u.ID())

	for _, tc := range []struct{ id, pw string }{
		{"user1", "wrong"},
		{"nobody", "pw1"},
		{"group1", ""},
	} {
		u, err := f.authn.Authenticate(ctx, tc.id, tc.pw)
		require.NoError(t, err)
		assert.Nil(t, u, tc.id)
	}

	looked, err := f.authn.Lookup(ctx, "user1")
	require.NoError(t, err)
	assert.NotNil(t, looked)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"user1", "user2"} {
		_, err := f.admin.CreateUser(ctx, id, "", "old", nil)
		require.NoError(t, err)
	}
	user1 := f.login(t, "user1", "old")

	err := user1.ChangePassword(ctx, "user1", "new", "bad")
	assert.True(t, errdefs.IsAccessDenied(err))
	require.NoError(t, user1.ChangePassword(ctx, "user1", "new", "old"))
	assert.True(t, errdefs.IsAccessDenied(user1.ChangePassword(ctx, "user2", "new", "old")))
	require.NoError(t, f.admin.ChangePassword(ctx, "user2", "reset", ""))

	u, err := f.authn.Authenticate(ctx, "user1", "new")
	require.NoError(t, err)
	assert.NotNil(t, u)
	u, err = f.authn.Authenticate(ctx, "user2", "reset")
	require.NoError(t, err)
	assert.NotNil(t, u)

	err = f.admin.ChangePassword(ctx, "nobody", "x", "")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestTriggerRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.admin.CreateUser(ctx, "user1", "", "pw", nil)
	require.NoError(t, err)
	_, err = f.admin.FindAuthorizable(ctx, "user1")
	require.NoError(t, err)

	f.admin.TriggerRefresh("user1")
	f.admin.TriggerRefreshAll()
	a, err := f.admin.FindAuthorizable(ctx, "user1")
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestUpdateChecksPropertyRightsAtSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.admin.CreateUser(ctx, "user1", "", "pw", map[string]any{"protected": "fixed", "public": "p"})
	require.NoError(t, err)

	user1 := f.login(t, "user1", "pw")
	self, err := user1.FindAuthorizable(ctx, "user1")
	require.NoError(t, err)

	// Revoked after the record was loaded.
	require.NoError(t, f.admin.access.SetACL(ctx, accesscontrol.ZoneAuthorizables, "user1",
		accesscontrol.DenyProperty("user1", "protected", accesscontrol.WriteProperty)))

	self.SetProperty("protected", "changed")
	self.SetProperty("public", "q")
	require.NoError(t, user1.UpdateAuthorizable(ctx, self))

	v, _ := self.Property("protected")
	assert.Equal(t, "fixed", v, "local copy reverts to the stored value")
	assert.False(t, self.IsModified())

	stored, err := f.admin.FindAuthorizable(ctx, "user1")
	require.NoError(t, err)
	v, _ = stored.Property("protected")
	assert.Equal(t, "fixed", v)
	v, _ = stored.Property("public")
	assert.Equal(t, "q", v)
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	passwords := []string{"first", "second", "third", "fourth"}
	created := make([]bool, len(passwords))
	var g errgroup.Group
	for i, pw := range passwords {
		i, pw := i, pw
		g.Go(func() error {
			ok, err := f.admin.CreateUser(ctx, "alice", "", pw, map[string]any{"writer": pw})
			created[i] = ok
			return err
		})
	}
	require.NoError(t, g.Wait())

	winner := ""
	for i, ok := range created {
		if ok {
			require.Empty(t, winner, "two creates of alice succeeded")
			winner = passwords[i]
		}
	}
	require.NotEmpty(t, winner)

	a, err := f.admin.FindAuthorizable(ctx, "alice")
	require.NoError(t, err)
	v, _ := a.Property("writer")
	assert.Equal(t, winner, v, "losing creates leave the stored user alone")

	u, err := f.authn.Authenticate(ctx, "alice", winner)
	require.NoError(t, err)
	assert.NotNil(t, u)
}

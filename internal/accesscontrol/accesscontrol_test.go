package accesscontrol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zathomas/sparsemapcontent/internal/auth"
	"github.com/zathomas/sparsemapcontent/internal/cache"
	"github.com/zathomas/sparsemapcontent/internal/errdefs"
	"github.com/zathomas/sparsemapcontent/internal/events"
	"github.com/zathomas/sparsemapcontent/internal/storage"
)

type fixture struct {
	svc   *Service
	admin *Manager
	clock *clock.Mock
	bus   *events.Bus
}

func newFixture(t *testing.T, resolver TokenResolver) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := storage.NewCachingClient(
		storage.NewMemoryClient(storage.MustRowHasher(storage.DefaultRowHashAlgorithm)),
		cache.New[storage.Row](100),
	)
	bus := events.NewBus(64)
	svc, err := NewService(Dependencies{
		Store:        store,
		Keyspace:     "n",
		ColumnFamily: "ac",
		Resolver:     resolver,
		Listener:     bus,
		Clock:        clk,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return &fixture{svc: svc, admin: svc.ForSubject(Subject{UserID: auth.AdminUser}), clock: clk, bus: bus}
}

func (f *fixture) can(t *testing.T, s Subject, zone Zone, path string, p Permission) bool {
	t.Helper()
	ok, err := f.svc.ForSubject(s).Can(context.Background(), zone, path, p)
	require.NoError(t, err)
	return ok
}

func TestPathChain(t *testing.T) {
	assert.Equal(t, []string{"a/b/c", "a/b", "a", "/"}, PathChain("/a//b/c/"))
	assert.Equal(t, []string{"/"}, PathChain(""))
	assert.Equal(t, []string{"/"}, PathChain("/"))
	assert.Equal(t, "content;a/b", aclKey(ZoneContent, "/a/b/"))
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission("read, write-property")
	require.NoError(t, err)
	assert.Equal(t, Read|WriteProperty, p)
	assert.Equal(t, "read,write-property", p.String())

	p, err = ParsePermission("anything")
	require.NoError(t, err)
	assert.Equal(t, Anything, p)
	assert.Equal(t, 8, p.Count())

	_, err = ParsePermission("fly")
	assert.Error(t, err)
	_, err = ParsePermission(" , ")
	assert.Error(t, err)
}

func TestACLRowCodec(t *testing.T) {
	a := NewACL(ZoneContent, "docs")
	changes, err := applyModifications(a, []Modification{
		Grant("bob@gmail.com", Read|Write),
		DenyTo(auth.Everyone, Write),
		GrantProperty("alice", "title", ReadProperty),
		DenyProperty(auth.Everyone, "title", AnythingProperty),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(Read|Write), changes["bob@gmail.com@g"])
	assert.True(t, storage.IsRemoved(changes["bob@gmail.com@d"]))
	assert.Equal(t, int64(ReadProperty), changes["alice@g@title"])

	row := storage.Row{}
	row.Merge(changes)
	row[secretField] = "s3"
	decoded, err := decodeACL(ZoneContent, "docs", row)
	require.NoError(t, err)

	e, ok := decoded.Lookup("bob@gmail.com", "")
	require.True(t, ok)
	assert.Equal(t, Read|Write, e.Grant)
	e, ok = decoded.Lookup(auth.Everyone, "title")
	require.True(t, ok)
	assert.Equal(t, AnythingProperty, e.Deny)
	assert.Equal(t, []string{"title"}, decoded.Properties())
	assert.Equal(t, "s3", decoded.secret)
	assert.NotContains(t, decoded.Map(), secretField)
}

func TestModification_GrantClearsDeny(t *testing.T) {
	a := NewACL(ZoneContent, "x")
	_, err := applyModifications(a, []Modification{DenyTo("bob", Read|Write)})
	require.NoError(t, err)
	_, err = applyModifications(a, []Modification{Grant("bob", Read)})
	require.NoError(t, err)

	e, _ := a.Lookup("bob", "")
	assert.Equal(t, Read, e.Grant)
	assert.Equal(t, Write, e.Deny)

	_, err = applyModifications(a, []Modification{Revoke("bob", "")})
	require.NoError(t, err)
	assert.True(t, a.Empty())

	_, err = applyModifications(a, []Modification{Grant("bob@g@x", Read)})
	assert.Error(t, err)
	_, err = applyModifications(a, []Modification{GrantProperty("bob", "a@b", ReadProperty)})
	assert.Error(t, err)
}

func TestCheck_InheritanceAndPrecedence(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice := Subject{UserID: "alice", Principals: []string{"editors"}}
	bob := Subject{UserID: "bob"}

	require.NoError(t, f.admin.SetACL(ctx, ZoneContent, "/", Grant(auth.Everyone, Read), DenyTo("alice", Write)))
	require.NoError(t, f.admin.SetACL(ctx, ZoneContent, "a", Grant("editors", Write)))
	require.NoError(t, f.admin.SetACL(ctx, ZoneContent, "a/b", DenyTo(auth.Everyone, Read)))
	require.NoError(t, f.admin.SetACL(ctx, ZoneContent, "a/b/c", Grant("bob", Read)))

	// inherited from the root
	assert.True(t, f.can(t, bob, ZoneContent, "a", Read))
	// a more specific deny hides it
	assert.False(t, f.can(t, bob, ZoneContent, "a/b", Read))
	// and a yet more specific user grant restores it
	assert.True(t, f.can(t, bob, ZoneContent, "a/b/c/d", Read))

	// group grant on a beats the user deny on the root
	assert.True(t, f.can(t, alice, ZoneContent, "a/x", Write))
	assert.False(t, f.can(t, alice, ZoneContent, "/", Write))

	// nothing says anything about delete
	assert.False(t, f.can(t, alice, ZoneContent, "a", Delete))
	// every bit must be granted
	assert.False(t, f.can(t, bob, ZoneContent, "a", Read|Write))
}

func TestCheck_UserTierBeatsGroupTierAtSameLevel(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.admin.SetACL(ctx, ZoneContent, "p", DenyTo("staff", Read), Grant("carol", Read), Grant(auth.Everyone, Write)))

	carol := Subject{UserID: "carol", Principals: []string{"staff"}}
	dave := Subject{UserID: "dave", Principals: []string{"staff"}}
	assert.True(t, f.can(t, carol, ZoneContent, "p", Read))
	assert.False(t, f.can(t, dave, ZoneContent, "p", Read))
	assert.True(t, f.can(t, dave, ZoneContent, "p", Write))
}

func TestCheck_DenyWinsWithinTier(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.admin.SetACL(ctx, ZoneContent, "p", Grant("g1", Read|Write), DenyTo("g2", Write)))

	s := Subject{UserID: "erin", Principals: []string{"g1", "g2"}}
	assert.True(t, f.can(t, s, ZoneContent, "p", Read))
	assert.False(t, f.can(t, s, ZoneContent, "p", Write))
}

func TestCheck_AdminAndElevation(t *testing.T) {
	f := newFixture(t, nil)
	anon := Anonymous()
	assert.False(t, f.can(t, anon, ZoneContent, "x", Write))
	assert.True(t, f.can(t, Subject{UserID: "zed", Principals: []string{auth.Administrators}}, ZoneContent, "x", Anything))

	ctx, release := Elevate(context.Background())
	ok, err := f.svc.ForSubject(anon).Can(ctx, ZoneContent, "x", Write)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
	ok, err = f.svc.ForSubject(anon).Can(ctx, ZoneContent, "x", Write)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetACL_RequiresWriteACL(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.svc.ForSubject(Subject{UserID: "bob"})

	err := bob.SetACL(ctx, ZoneContent, "docs", Grant("bob", Anything))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrAccessDenied))

	require.NoError(t, f.admin.SetACL(ctx, ZoneContent, "docs", Grant("bob", WriteACL|ReadACL)))
	require.NoError(t, bob.SetACL(ctx, ZoneContent, "docs/mine", Grant("bob", Read)))

	a, err := bob.GetACL(ctx, ZoneContent, "docs/mine")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"bob@g": int64(Read)}, a.Map())

	var topics []string
	for len(f.bus.Subscribe()) > 0 {
		e := <-f.bus.Subscribe()
		topics = append(topics, e.Topic)
		assert.Equal(t, events.ResourceACL, e.ResourceType)
	}
	assert.Equal(t, []string{"sparse/content/created", "sparse/content/created"}, topics)
}

func TestEffectiveACL(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.admin.SetACL(ctx, ZoneContent, "/", Grant(auth.Everyone, Read)))
	require.NoError(t, f.admin.SetACL(ctx, ZoneContent, "a", DenyTo(auth.Everyone, Read), Grant("bob", Write)))

	eff, err := f.admin.EffectiveACL(ctx, ZoneContent, "a/b")
	require.NoError(t, err)
	e, ok := eff.Lookup(auth.Everyone, "")
	require.True(t, ok)
	assert.Equal(t, Read, e.Deny)
	assert.Zero(t, e.Grant)

	writers, err := f.admin.Principals(ctx, ZoneContent, "a/b", Write, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, writers)

	_, err = f.svc.ForSubject(Subject{UserID: "bob"}).EffectiveACL(ctx, ZoneContent, "a")
	assert.True(t, errdefs.IsAccessDenied(err))
}

func TestPropertyACL(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.admin.SetACL(ctx, ZoneAuthorizables, "/", Grant(auth.Everyone, Read)))
	require.NoError(t, f.admin.SetACL(ctx, ZoneAuthorizables, "user1",
		Grant("user1", Anything),
		GrantProperty("user1", "privateproperty", AnythingProperty),
		GrantProperty("user1", "protectedproperty", ReadProperty),
		DenyProperty(auth.Everyone, "privateproperty", AnythingProperty),
		DenyProperty(auth.Everyone, "protectedproperty", AnythingProperty),
	))

	own, err := f.svc.ForSubject(Subject{UserID: "user1"}).PropertyACL(ctx, ZoneAuthorizables, "user1")
	require.NoError(t, err)
	assert.True(t, own.CanRead("privateproperty"))
	assert.True(t, own.CanWrite("privateproperty"))
	assert.True(t, own.CanRead("protectedproperty"))
	assert.False(t, own.CanWrite("protectedproperty"))
	assert.True(t, own.CanWrite("publicproperty"))

	other, err := f.svc.ForSubject(Subject{UserID: "user2"}).PropertyACL(ctx, ZoneAuthorizables, "user1")
	require.NoError(t, err)
	assert.Equal(t, []string{"privateproperty", "protectedproperty"}, other.ReadDenied())
	assert.Equal(t, []string{"privateproperty", "protectedproperty"}, other.WriteDenied())
	assert.Equal(t, map[string]any{"publicproperty": "x"}, other.Redact(map[string]any{
		"publicproperty": "x", "privateproperty": "y", "protectedproperty": "z",
	}))

	all, err := f.admin.PropertyACL(ctx, ZoneAuthorizables, "user1")
	require.NoError(t, err)
	assert.Empty(t, all.ReadDenied())
}

func TestAdminZone(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice := Subject{UserID: "alice", Principals: []string{"ops"}}

	assert.False(t, f.can(t, alice, ZoneAdmin, "users", Write))
	require.NoError(t, f.admin.SetACL(ctx, ZoneAdmin, "users", Grant("ops", Read|Write)))
	assert.True(t, f.can(t, alice, ZoneAdmin, "users", Write))

	require.NoError(t, f.admin.SetACL(ctx, ZoneAdmin, "users", DenyTo("alice", Write)))
	assert.False(t, f.can(t, alice, ZoneAdmin, "users", Write))
	assert.True(t, f.can(t, alice, ZoneAdmin, "users", Read))

	a, err := f.admin.GetACL(ctx, ZoneAdmin, "users")
	require.NoError(t, err)
	e, _ := a.Lookup("alice", "")
	assert.Equal(t, Write, e.Deny)

	eff, err := f.admin.EffectiveACL(ctx, ZoneAdmin, "users")
	require.NoError(t, err)
	e, _ = eff.Lookup(auth.Administrators, "")
	assert.Equal(t, Anything, e.Grant)

	err = f.admin.SetACL(ctx, ZoneAdmin, "users", GrantProperty("ops", "x", ReadProperty))
	assert.Error(t, err)
}

// Package authorizable manages users and groups. Both are stored as rows
// in the authorizables column family; the type field tells them apart.
// Every instance carries the principals it holds, and groups additionally
// list their members. Membership is direct: adding a member gives that
// member the group's id as a principal.
package authorizable

import (
	"slices"

	"github.com/zathomas/sparsemapcontent/internal/accesscontrol"
	"github.com/zathomas/sparsemapcontent/internal/auth"
	"github.com/zathomas/sparsemapcontent/internal/storage"
)

// Stored fields.
const (
	IDField         = "id"
	NameField       = "name"
	TypeField       = "type"
	PrincipalsField = "principals"
	MembersField    = "members"
	PasswordField   = "password"
)

const (
	typeUser  = "u"
	typeGroup = "g"
)

// Kind selects users, groups or both in searches.
type Kind int

const (
	KindAny Kind = iota
	KindUser
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindGroup:
		return "group"
	}
	return "any"
}

// managed fields change only through dedicated methods.
var managed = map[string]bool{
	IDField:         true,
	TypeField:       true,
	PrincipalsField: true,
	MembersField:    true,
	PasswordField:   true,
}

// Authorizable is a *User or a *Group.
type Authorizable interface {
	ID() string
	Name() string
	// Properties returns a copy of the readable properties.
	Properties() map[string]any
	// Property returns a readable property.
	Property(name string) (any, bool)
	// SetProperty changes the local copy. Managed fields and properties
	// the loading subject may not write are ignored.
	SetProperty(name string, value any)
	RemoveProperty(name string)
	// Principals lists held principals, always ending with everyone.
	Principals() []string
	AddPrincipal(principal string)
	RemovePrincipal(principal string)
	IsGroup() bool
	// IsModified reports unsaved local changes.
	IsModified() bool

	state() *base
}

type base struct {
	id         string
	props      map[string]any
	changes    storage.Row
	principals []string
	pchanged   bool
	access     *accesscontrol.PropertyACL
	isNew      bool
}

func newBase(id string, row storage.Row, access *accesscontrol.PropertyACL) base {
	b := base{id: id, props: map[string]any{}, changes: storage.Row{}, access: access}
	for k, v := range row {
		switch k {
		case PasswordField, PrincipalsField, MembersField:
			continue
		}
		if access != nil && !access.CanRead(k) {
			continue
		}
		b.props[k] = v
	}
	b.props[IDField] = id
	b.principals = stringList(row[PrincipalsField])
	return b
}

func (b *base) state() *base { return b }

func (b *base) ID() string { return b.id }

func (b *base) Name() string {
	s, _ := b.props[NameField].(string)
	return s
}

func (b *base) Properties() map[string]any {
	out := make(map[string]any, len(b.props))
	for k, v := range b.props {
		out[k] = v
	}
	return out
}

func (b *base) Property(name string) (any, bool) {
	v, ok := b.props[name]
	return v, ok
}

func (b *base) SetProperty(name string, value any) {
	if managed[name] || !b.writable(name) {
		return
	}
	b.props[name] = value
	b.changes[name] = value
}

func (b *base) RemoveProperty(name string) {
	if managed[name] || !b.writable(name) {
		return
	}
	if _, ok := b.props[name]; !ok {
		return
	}
	delete(b.props, name)
	b.changes[name] = storage.Removed
}

func (b *base) writable(name string) bool {
	return b.access == nil || (b.access.CanRead(name) && b.access.CanWrite(name))
}

// restrict adopts the saving session's property rights. Pending changes
// to properties it may not write are dropped and their local values put
// back to stored.
func (b *base) restrict(access *accesscontrol.PropertyACL, stored storage.Row) {
	b.access = access
	for name := range b.changes {
		if b.writable(name) {
			continue
		}
		delete(b.changes, name)
		if v, ok := stored[name]; ok && access.CanRead(name) {
			b.props[name] = v
		} else {
			delete(b.props, name)
		}
	}
}

func (b *base) Principals() []string {
	out := slices.Clone(b.principals)
	return append(out, auth.Everyone)
}

func (b *base) AddPrincipal(principal string) {
	if principal == "" || principal == auth.Everyone || slices.Contains(b.principals, principal) {
		return
	}
	b.principals = append(b.principals, principal)
	b.pchanged = true
}

func (b *base) RemovePrincipal(principal string) {
	if i := slices.Index(b.principals, principal); i >= 0 {
		b.principals = slices.Delete(b.principals, i, i+1)
		b.pchanged = true
	}
}

func (b *base) IsModified() bool {
	return b.isNew || b.pchanged || len(b.changes) > 0
}

// pending returns the row changes to persist.
func (b *base) pending() storage.Row {
	out := b.changes.Clone()
	if b.pchanged || b.isNew {
		out[PrincipalsField] = slices.Clone(b.principals)
	}
	return out
}

func (b *base) saved() {
	b.changes = storage.Row{}
	b.pchanged = false
	b.isNew = false
}

// User is a login identity.
type User struct {
	base
}

// IsGroup is false for users.
func (u *User) IsGroup() bool { return false }

// IsAdmin reports whether the user bypasses access control.
func (u *User) IsAdmin() bool {
	return u.id == auth.AdminUser || slices.Contains(u.principals, auth.Administrators)
}

// IsAnonymous reports whether this is the anonymous user.
func (u *User) IsAnonymous() bool {
	return u.id == auth.AnonymousUser
}

// Subject returns the identity access control decides for.
func (u *User) Subject() accesscontrol.Subject {
	return accesscontrol.Subject{UserID: u.id, Principals: slices.Clone(u.principals)}
}

// Group is a named set of members that is itself a principal.
type Group struct {
	base
	members []string
	added   []string
	removed []string
}

// IsGroup is true for groups.
func (g *Group) IsGroup() bool { return true }

// Members lists member ids.
func (g *Group) Members() []string {
	return slices.Clone(g.members)
}

// AddMember adds id to the group. On update the member receives the
// group's id as a principal.
func (g *Group) AddMember(id string) {
	if id == "" || id == g.id || slices.Contains(g.members, id) {
		return
	}
	g.members = append(g.members, id)
	if i := slices.Index(g.removed, id); i >= 0 {
		g.removed = slices.Delete(g.removed, i, i+1)
	} else {
		g.added = append(g.added, id)
	}
}

// RemoveMember removes id from the group.
func (g *Group) RemoveMember(id string) {
	i := slices.Index(g.members, id)
	if i < 0 {
		return
	}
	g.members = slices.Delete(g.members, i, i+1)
	if j := slices.Index(g.added, id); j >= 0 {
		g.added = slices.Delete(g.added, j, j+1)
	} else {
		g.removed = append(g.removed, id)
	}
}

func (g *Group) IsModified() bool {
	return g.base.IsModified() || len(g.added) > 0 || len(g.removed) > 0
}

func (g *Group) pending() storage.Row {
	out := g.base.pending()
	if g.isNew || len(g.added) > 0 || len(g.removed) > 0 {
		out[MembersField] = slices.Clone(g.members)
	}
	return out
}

func (g *Group) saved() {
	g.base.saved()
	g.added, g.removed = nil, nil
}

// decode builds the authorizable held in row. access may be nil for
// unredacted, system use.
func decode(id string, row storage.Row, access *accesscontrol.PropertyACL) Authorizable {
	b := newBase(id, row, access)
	if row.String(TypeField) == typeGroup {
		return &Group{base: b, members: stringList(row[MembersField])}
	}
	return &User{base: b}
}

func matchesKind(row storage.Row, kind Kind) bool {
	switch kind {
	case KindUser:
		return row.String(TypeField) != typeGroup
	case KindGroup:
		return row.String(TypeField) == typeGroup
	}
	return true
}

// stringList reads a principal or member list stored either as a list or
// as a ";" separated string.
func stringList(v any) []string {
	switch tv := v.(type) {
	case []string:
		return auth.SplitPrincipals(auth.JoinPrincipals(tv))
	case []any:
		var out []string
		for _, e := range tv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return auth.SplitPrincipals(auth.JoinPrincipals(out))
	case string:
		return auth.SplitPrincipals(tv)
	}
	return nil
}

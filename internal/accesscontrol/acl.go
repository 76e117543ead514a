package accesscontrol

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zathomas/sparsemapcontent/internal/storage"
)

// Stored field layout. Object entries are "principal@g" and "principal@d";
// property entries append "@property". Values are int64 masks.
const (
	grantMarker  = "@g"
	denyMarker   = "@d"
	secretField  = "_secretKey"
	reservedMark = "_"
)

// Entry is one principal's grant and deny masks, either on the object or on
// a single property.
type Entry struct {
	Principal string
	// Property is empty for object scoped entries.
	Property string
	Grant    Permission
	Deny     Permission
}

type target struct {
	principal string
	property  string
}

// ACL is the set of entries stored on one path.
type ACL struct {
	Zone    Zone
	Path    string
	entries map[target]Entry
	secret  string
}

// NewACL returns an empty ACL for zone and path.
func NewACL(zone Zone, path string) *ACL {
	return &ACL{Zone: zone, Path: NormalizePath(path), entries: map[target]Entry{}}
}

// Lookup returns the entry for principal on property ("" for the object).
func (a *ACL) Lookup(principal, property string) (Entry, bool) {
	if a == nil {
		return Entry{}, false
	}
	e, ok := a.entries[target{principal, property}]
	return e, ok
}

// Entries returns every entry ordered by principal then property.
func (a *ACL) Entries() []Entry {
	if a == nil {
		return nil
	}
	out := make([]Entry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Principal != out[j].Principal {
			return out[i].Principal < out[j].Principal
		}
		return out[i].Property < out[j].Property
	})
	return out
}

// Properties lists the property names with entries on this path.
func (a *ACL) Properties() []string {
	if a == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for t := range a.entries {
		if t.property != "" && !seen[t.property] {
			seen[t.property] = true
			out = append(out, t.property)
		}
	}
	sort.Strings(out)
	return out
}

// Empty reports whether the ACL has no entries.
func (a *ACL) Empty() bool {
	return a == nil || len(a.entries) == 0
}

// Map renders the ACL the way it is stored, without the signing secret.
func (a *ACL) Map() map[string]int64 {
	out := map[string]int64{}
	if a == nil {
		return out
	}
	for _, e := range a.entries {
		if e.Grant != 0 {
			out[fieldName(e.Principal, e.Property, false)] = int64(e.Grant)
		}
		if e.Deny != 0 {
			out[fieldName(e.Principal, e.Property, true)] = int64(e.Deny)
		}
	}
	return out
}

func (a *ACL) set(e Entry) {
	t := target{e.Principal, e.Property}
	if e.Grant == 0 && e.Deny == 0 {
		delete(a.entries, t)
		return
	}
	a.entries[t] = e
}

func fieldName(principal, property string, deny bool) string {
	marker := grantMarker
	if deny {
		marker = denyMarker
	}
	if property == "" {
		return principal + marker
	}
	return principal + marker + "@" + property
}

// parseField splits a stored field name. Principals may contain "@" (mail
// addresses) but never "@g@" or "@d@", and property names contain no "@",
// so the last property marker is unambiguous.
func parseField(field string) (principal, property string, deny, ok bool) {
	gi := strings.LastIndex(field, grantMarker+"@")
	di := strings.LastIndex(field, denyMarker+"@")
	if i := max(gi, di); i > 0 && i+3 < len(field) {
		return field[:i], field[i+3:], i == di, true
	}
	for _, marker := range []string{grantMarker, denyMarker} {
		if strings.HasSuffix(field, marker) && len(field) > len(marker) {
			return strings.TrimSuffix(field, marker), "", marker == denyMarker, true
		}
	}
	return "", "", false, false
}

func decodeACL(zone Zone, path string, row storage.Row) (*ACL, error) {
	a := NewACL(zone, path)
	for field, value := range row {
		if field == secretField {
			a.secret, _ = value.(string)
			continue
		}
		if strings.HasPrefix(field, reservedMark) {
			continue
		}
		principal, property, deny, ok := parseField(field)
		if !ok {
			continue
		}
		mask, err := toMask(value)
		if err != nil {
			return nil, fmt.Errorf("acl %s:%s field %s: %w", zone, path, field, err)
		}
		e := a.entries[target{principal, property}]
		e.Principal, e.Property = principal, property
		if deny {
			e.Deny = mask
		} else {
			e.Grant = mask
		}
		a.set(e)
	}
	return a, nil
}

func toMask(v any) (Permission, error) {
	switch n := v.(type) {
	case int64:
		return Permission(n), nil
	case int:
		return Permission(n), nil
	case int32:
		return Permission(n), nil
	case uint64:
		return Permission(n), nil
	case float64:
		return Permission(int64(n)), nil
	}
	return 0, fmt.Errorf("unexpected mask type %T", v)
}

// Operation says how a Modification combines with the stored masks.
type Operation int

const (
	// OpAdd sets the bits on the chosen side and clears them on the other.
	OpAdd Operation = iota
	// OpRemove clears the bits on the chosen side only.
	OpRemove
	// OpReplace sets the chosen side to exactly the bits.
	OpReplace
	// OpDelete drops both sides of the entry.
	OpDelete
)

// Modification is one change to an ACL entry.
type Modification struct {
	Principal  string
	Property   string
	Deny       bool
	Permission Permission
	Op         Operation
}

// Grant gives principal the permission on the object.
func Grant(principal string, p Permission) Modification {
	return Modification{Principal: principal, Permission: p, Op: OpAdd}
}

// DenyTo denies principal the permission on the object.
func DenyTo(principal string, p Permission) Modification {
	return Modification{Principal: principal, Permission: p, Deny: true, Op: OpAdd}
}

// GrantProperty gives principal the permission on one property.
func GrantProperty(principal, property string, p Permission) Modification {
	return Modification{Principal: principal, Property: property, Permission: p, Op: OpAdd}
}

// DenyProperty denies principal the permission on one property.
func DenyProperty(principal, property string, p Permission) Modification {
	return Modification{Principal: principal, Property: property, Permission: p, Deny: true, Op: OpAdd}
}

// Revoke removes principal's entry on the object, or on property if given.
func Revoke(principal, property string) Modification {
	return Modification{Principal: principal, Property: property, Op: OpDelete}
}

func (m Modification) validate() error {
	if strings.TrimSpace(m.Principal) == "" {
		return fmt.Errorf("acl modification without principal")
	}
	if strings.Contains(m.Principal, grantMarker+"@") || strings.Contains(m.Principal, denyMarker+"@") ||
		strings.HasSuffix(m.Principal, grantMarker) || strings.HasSuffix(m.Principal, denyMarker) ||
		strings.HasPrefix(m.Principal, reservedMark) {
		return fmt.Errorf("invalid principal %q in acl modification", m.Principal)
	}
	if strings.Contains(m.Property, "@") {
		return fmt.Errorf("invalid property %q in acl modification", m.Property)
	}
	if m.Op != OpDelete && m.Op != OpReplace && m.Permission == 0 {
		return fmt.Errorf("acl modification for %s carries no permission", m.Principal)
	}
	return nil
}

func (m Modification) apply(e Entry) Entry {
	e.Principal, e.Property = m.Principal, m.Property
	switch m.Op {
	case OpAdd:
		if m.Deny {
			e.Deny |= m.Permission
			e.Grant &^= m.Permission
		} else {
			e.Grant |= m.Permission
			e.Deny &^= m.Permission
		}
	case OpRemove:
		if m.Deny {
			e.Deny &^= m.Permission
		} else {
			e.Grant &^= m.Permission
		}
	case OpReplace:
		if m.Deny {
			e.Deny = m.Permission
		} else {
			e.Grant = m.Permission
		}
	case OpDelete:
		e.Grant, e.Deny = 0, 0
	}
	return e
}

// applyModifications updates a and returns the row changes to persist.
func applyModifications(a *ACL, mods []Modification) (storage.Row, error) {
	changes := storage.Row{}
	for _, m := range mods {
		if err := m.validate(); err != nil {
			return nil, err
		}
		before, _ := a.Lookup(m.Principal, m.Property)
		after := m.apply(before)
		a.set(after)
		changes[fieldName(m.Principal, m.Property, false)] = maskValue(after.Grant)
		changes[fieldName(m.Principal, m.Property, true)] = maskValue(after.Deny)
	}
	return changes, nil
}

func maskValue(p Permission) any {
	if p == 0 {
		return storage.Removed
	}
	return int64(p)
}

package accesscontrol

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/util"

	"github.com/zathomas/sparsemapcontent/internal/auth"
)

// AdminPolicy holds the flat admin zone ACLs as casbin policies
// (principal, path pattern, permission, effect). A deny for any acting
// principal overrides every allow.
type AdminPolicy struct {
	enforcer casbin.IEnforcer
}

// NewAdminPolicy wraps an enforcer built by auth.InitEnforcer.
func NewAdminPolicy(enforcer casbin.IEnforcer) *AdminPolicy {
	return &AdminPolicy{enforcer: enforcer}
}

// SeedDefaults lets administrators do anything anywhere in the zone.
func (p *AdminPolicy) SeedDefaults() error {
	if _, err := p.enforcer.AddPolicy(auth.Administrators, "*", auth.ActionAnything, auth.EffectAllow); err != nil {
		return fmt.Errorf("seed admin policy: %w", err)
	}
	return nil
}

// Allowed reports whether the subject holds every permission in want on
// path.
func (p *AdminPolicy) Allowed(subject Subject, path string, want Permission) (bool, error) {
	sub := auth.RequestSubject(subject.acting()...)
	for _, name := range want.Names() {
		ok, err := p.enforcer.Enforce(sub, path, name)
		if err != nil {
			return false, fmt.Errorf("enforce admin policy: %w", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Apply translates ACL modifications into policy changes.
func (p *AdminPolicy) Apply(path string, mods []Modification) error {
	for _, m := range mods {
		if err := m.validate(); err != nil {
			return err
		}
		if m.Property != "" {
			return fmt.Errorf("property %q: the admin zone has no property level acls", m.Property)
		}
		eft, opposite := auth.EffectAllow, auth.EffectDeny
		if m.Deny {
			eft, opposite = opposite, eft
		}

		var err error
		switch m.Op {
		case OpAdd:
			for _, name := range m.Permission.Names() {
				if _, err = p.enforcer.RemovePolicy(m.Principal, path, name, opposite); err != nil {
					break
				}
				if _, err = p.enforcer.AddPolicy(m.Principal, path, name, eft); err != nil {
					break
				}
			}
		case OpRemove:
			for _, name := range m.Permission.Names() {
				if _, err = p.enforcer.RemovePolicy(m.Principal, path, name, eft); err != nil {
					break
				}
			}
		case OpReplace:
			if _, err = p.enforcer.RemoveFilteredPolicy(0, m.Principal, path, "", eft); err != nil {
				break
			}
			for _, name := range m.Permission.Names() {
				if _, err = p.enforcer.AddPolicy(m.Principal, path, name, eft); err != nil {
					break
				}
			}
		case OpDelete:
			_, err = p.enforcer.RemoveFilteredPolicy(0, m.Principal, path)
		}
		if err != nil {
			return fmt.Errorf("update admin policy for %s on %s: %w", m.Principal, path, err)
		}
	}
	return nil
}

// ACL renders the policies for path. With inherited, pattern policies that
// match path are included as well.
func (p *AdminPolicy) ACL(path string, inherited bool) (*ACL, error) {
	policies, err := p.enforcer.GetPolicy()
	if err != nil {
		return nil, fmt.Errorf("list admin policies: %w", err)
	}
	a := &ACL{Zone: ZoneAdmin, Path: path, entries: map[target]Entry{}}
	for _, rule := range policies {
		if len(rule) < 4 {
			continue
		}
		principal, obj, act, eft := rule[0], rule[1], rule[2], rule[3]
		if obj != path && !(inherited && util.KeyMatch(path, obj)) {
			continue
		}
		perm := Anything
		if act != auth.ActionAnything {
			if perm, err = ParsePermission(act); err != nil {
				continue
			}
		}
		e, _ := a.Lookup(principal, "")
		e.Principal = principal
		if eft == auth.EffectDeny {
			e.Deny |= perm
		} else {
			e.Grant |= perm
		}
		e.Grant &^= e.Deny
		a.set(e)
	}
	return a, nil
}

package accesscontrol

import (
	"context"
	"crypto/hmac"
	"errors"

	"github.com/zathomas/sparsemapcontent/internal/auth"
	"github.com/zathomas/sparsemapcontent/internal/cache"
	"github.com/zathomas/sparsemapcontent/internal/errdefs"
)

// decision accumulates the bits settled while walking the path chain.
type decision struct {
	granted Permission
	denied  Permission
}

func (d decision) open(want Permission) Permission {
	return want &^ (d.granted | d.denied)
}

// evaluation holds per-call state: loaded ACLs and proxy validations.
type evaluation struct {
	svc      *Service
	ctx      context.Context
	subject  Subject
	zone     Zone
	resolver TokenResolver
	acls     map[string]*ACL
	proxies  map[string]bool
}

func (s *Service) newEvaluation(ctx context.Context, subject Subject, zone Zone, resolver TokenResolver) *evaluation {
	return &evaluation{
		svc:      s,
		ctx:      ctx,
		subject:  subject,
		zone:     zone,
		resolver: resolver,
		acls:     map[string]*ACL{},
		proxies:  map[string]bool{},
	}
}

func (ev *evaluation) acl(path string) (*ACL, error) {
	if a, ok := ev.acls[path]; ok {
		return a, nil
	}
	a, err := ev.svc.loadACL(ev.ctx, ev.zone, path)
	if err != nil {
		return nil, err
	}
	ev.acls[path] = a
	return a, nil
}

// decide walks from path to the root. At each level the principals are
// taken in tiers: the user id, then memberships and valid proxy principals,
// then everyone. Within a tier a deny beats a grant; a bit settled at a
// more specific level or tier is never revisited. property selects the
// property scoped entries, "" the object ones.
func (ev *evaluation) decide(path, property string, want Permission) (decision, error) {
	var d decision
	for _, p := range PathChain(path) {
		a, err := ev.acl(p)
		if err != nil {
			return d, err
		}
		if a.Empty() {
			continue
		}
		for tier := 0; tier < 3; tier++ {
			open := d.open(want)
			if open == 0 {
				return d, nil
			}
			principals, err := ev.tier(tier, a, property, open)
			if err != nil {
				return d, err
			}
			var grant, deny Permission
			for _, principal := range principals {
				e, ok := a.Lookup(principal, property)
				if !ok {
					continue
				}
				grant |= e.Grant & open
				deny |= e.Deny & open
			}
			d.denied |= deny
			d.granted |= grant &^ deny
		}
	}
	return d, nil
}

func (ev *evaluation) tier(n int, a *ACL, property string, open Permission) ([]string, error) {
	switch n {
	case 0:
		return []string{ev.subject.UserID}, nil
	case 2:
		return []string{auth.Everyone}, nil
	}
	principals := ev.subject.memberships()
	for _, e := range a.Entries() {
		if e.Property != property || !auth.IsProxyPrincipal(e.Principal) || (e.Grant|e.Deny)&open == 0 {
			continue
		}
		ok, err := ev.proxyValid(a, e.Principal)
		if err != nil {
			return nil, err
		}
		if ok {
			principals = append(principals, e.Principal)
		}
	}
	return principals, nil
}

// proxyValid reports whether a resolvable token proves principal on the
// ACL's object. Bad tokens are dropped silently; only storage failures
// surface.
func (ev *evaluation) proxyValid(a *ACL, principal string) (bool, error) {
	key := principal + "\x00" + a.Path
	if ok, seen := ev.proxies[key]; seen {
		return ok, nil
	}
	ok, err := ev.resolveProxy(a, principal)
	if err != nil {
		return false, err
	}
	ev.proxies[key] = ok
	return ok, nil
}

func (ev *evaluation) resolveProxy(a *ACL, principal string) (bool, error) {
	if ev.resolver == nil || a.secret == "" {
		return false, nil
	}

	// Resolvers are caller supplied code: they never run elevated.
	if c := cache.CounterFrom(ev.ctx, ElevationCounter); c != nil {
		defer c.Isolate()()
	}
	tokens, err := ev.resolver.ResolveTokens(ev.ctx, principal)
	if err != nil {
		if errors.Is(err, errdefs.ErrStorage) {
			return false, err
		}
		ev.svc.logger.Warn().Err(err).Str("principal", principal).Msg("token resolver failed")
		return false, nil
	}
	for _, t := range tokens {
		if ev.svc.verifyToken(a, principal, t) {
			return true, nil
		}
	}
	ev.svc.logger.Debug().Str("principal", principal).Str("path", a.Path).Int("offered", len(tokens)).Msg("no valid token for proxy principal")
	return false, nil
}

func (s *Service) verifyToken(a *ACL, principal string, t *Token) bool {
	if t == nil || t.Principal() != principal || t.Target() != aclKey(a.Zone, a.Path) {
		return false
	}
	plugin := s.validators.Get(t.Validator())
	if plugin == nil {
		return false
	}
	mac := t.str(TokenHMACField)
	if mac == "" || !hmac.Equal([]byte(mac), []byte(signToken(a.secret, t.Target(), t, plugin.ProtectedFields()))) {
		return false
	}
	return plugin.Validate(t)
}

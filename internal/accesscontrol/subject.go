package accesscontrol

import (
	"context"
	"slices"

	"github.com/zathomas/sparsemapcontent/internal/auth"
	"github.com/zathomas/sparsemapcontent/internal/cache"
)

// Subject is the identity access is decided for: a user id and the
// principals (groups and roles) it holds. Everyone is implied.
type Subject struct {
	UserID     string
	Principals []string
}

// Anonymous is the subject of an unauthenticated session.
func Anonymous() Subject {
	return Subject{UserID: auth.AnonymousUser}
}

// IsAdmin reports whether the subject bypasses access checks.
func (s Subject) IsAdmin() bool {
	return s.UserID == auth.AdminUser || slices.Contains(s.Principals, auth.Administrators)
}

// IsAnonymous reports whether the subject is the anonymous user.
func (s Subject) IsAnonymous() bool {
	return s.UserID == auth.AnonymousUser
}

// memberships are the held principals other than the user id and everyone.
func (s Subject) memberships() []string {
	out := make([]string, 0, len(s.Principals))
	for _, p := range s.Principals {
		if p != "" && p != s.UserID && p != auth.Everyone && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// acting lists every principal the subject acts as, most specific first.
func (s Subject) acting() []string {
	out := append([]string{s.UserID}, s.memberships()...)
	return append(out, auth.Everyone)
}

// ElevationCounter names the context counter that, while set, lets
// internal code bypass access checks.
const ElevationCounter = "elevation"

// Elevate bypasses access checks for the call chain until release is
// called. Token resolvers invoked meanwhile run with elevation suspended.
func Elevate(ctx context.Context) (context.Context, func()) {
	ctx, c := cache.BindCounter(ctx, ElevationCounter)
	return ctx, c.Enter()
}

// IsElevated reports whether ctx is inside Elevate.
func IsElevated(ctx context.Context) bool {
	return cache.IsSet(ctx, ElevationCounter)
}

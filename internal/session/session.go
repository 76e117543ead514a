package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zathomas/sparsemapcontent/internal/accesscontrol"
	"github.com/zathomas/sparsemapcontent/internal/auth"
	"github.com/zathomas/sparsemapcontent/internal/authorizable"
	"github.com/zathomas/sparsemapcontent/internal/content"
	"github.com/zathomas/sparsemapcontent/internal/errdefs"
	"github.com/zathomas/sparsemapcontent/internal/telemetry"
)

const tracerName = "sparse/session"

// Login methods, recorded in metrics.
const (
	MethodPassword       = "password"
	MethodTrusted        = "trusted"
	MethodAdministrative = "administrative"
	MethodAnonymous      = "anonymous"
)

// Session is one user's authenticated view of the store.
type Session struct {
	id     string
	user   *authorizable.User
	repo   *Repository
	access *accesscontrol.Manager
	authz  *authorizable.Manager
	cm     *content.Manager
	closed atomic.Bool
}

// ID identifies the session in events and logs.
func (s *Session) ID() string { return s.id }

// UserID is the id of the logged in user.
func (s *Session) UserID() string { return s.user.ID() }

// User is the logged in user as loaded at login.
func (s *Session) User() *authorizable.User { return s.user }

// AccessControl checks and edits ACLs as the session user.
func (s *Session) AccessControl() *accesscontrol.Manager { return s.access }

// Authorizables manages users and groups as the session user.
func (s *Session) Authorizables() *authorizable.Manager { return s.authz }

// Content manages content as the session user.
func (s *Session) Content() *content.Manager { return s.cm }

// Logout ends the session. Calling it again does nothing.
func (s *Session) Logout(ctx context.Context) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.repo.listener.OnLogout(ctx, s.user.ID(), s.id)
	s.repo.logger.Debug().Str("user", s.user.ID()).Str("session", s.id).Msg("logout")
}

// Login authenticates id with password. Unknown users and wrong passwords
// fail alike with an access denied error.
func (r *Repository) Login(ctx context.Context, id, password string) (*Session, error) {
	return r.login(ctx, MethodPassword, id, func(ctx context.Context) (*authorizable.User, error) {
		return r.authn.Authenticate(ctx, id, password)
	})
}

// LoginAnonymous opens a session for the anonymous user.
func (r *Repository) LoginAnonymous(ctx context.Context) (*Session, error) {
	return r.login(ctx, MethodAnonymous, auth.AnonymousUser, func(ctx context.Context) (*authorizable.User, error) {
		return r.authn.Lookup(ctx, auth.AnonymousUser)
	})
}

// LoginAdministrative opens a session for id without a password, for
// in-process callers that already hold authority. An empty id selects
// the admin user.
func (r *Repository) LoginAdministrative(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = auth.AdminUser
	}
	return r.login(ctx, MethodAdministrative, id, func(ctx context.Context) (*authorizable.User, error) {
		return r.authn.Lookup(ctx, id)
	})
}

// LoginTrusted opens a session for the principal named in a trusted
// token issued by a front end holding the shared secret.
func (r *Repository) LoginTrusted(ctx context.Context, token string) (*Session, error) {
	principal, err := auth.DecodeTrustedToken([]byte(r.cfg.TrustedTokenSecret), token, r.clock.Now(), r.cfg.TrustedTokenTTL)
	if err != nil {
		r.metrics.RecordLogin(ctx, MethodTrusted, false)
		r.logger.Warn().Err(err).Msg("trusted login rejected")
		return nil, err
	}
	return r.login(ctx, MethodTrusted, principal, func(ctx context.Context) (*authorizable.User, error) {
		return r.authn.Lookup(ctx, principal)
	})
}

func (r *Repository) login(ctx context.Context, method, id string, find func(context.Context) (*authorizable.User, error)) (*Session, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.Login",
		attribute.String(telemetry.AttrPrincipal, id),
		attribute.String("auth.method", method),
	)
	defer span.End()

	user, err := find(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("login %s: %w", id, err)
	}
	if user == nil {
		r.metrics.RecordLogin(ctx, method, false)
		r.logger.Info().Str("user", id).Str("method", method).Msg("login failed")
		err := errdefs.AccessDenied(id, string(accesscontrol.ZoneAuthorizables), id, "login")
		telemetry.RecordError(span, err)
		return nil, err
	}

	authz, cm, access, err := r.managers(user.Subject())
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:     uuid.Must(uuid.NewV7()).String(),
		user:   user,
		repo:   r,
		access: access,
		authz:  authz,
		cm:     cm,
	}
	span.SetAttributes(attribute.String(telemetry.AttrSessionID, s.id))
	r.metrics.RecordLogin(ctx, method, true)
	r.listener.OnLogin(ctx, user.ID(), s.id)
	return s, nil
}

// Package accesscontrol decides what a subject may do with an object.
// ACLs are stored per (zone, path) as grant and deny masks per principal,
// optionally narrowed to one property. Hierarchical zones inherit from
// parent paths; the admin zone is a flat casbin policy set. Proxy
// principals are held only while a signed, currently valid token for them
// can be resolved.
package accesscontrol

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/zathomas/sparsemapcontent/internal/auth"
	"github.com/zathomas/sparsemapcontent/internal/events"
	"github.com/zathomas/sparsemapcontent/internal/storage"
	"github.com/zathomas/sparsemapcontent/internal/telemetry"
)

// Dependencies groups what the access control service needs.
type Dependencies struct {
	// Store holds ACL rows; normally the shared caching client.
	Store        storage.Client
	Keyspace     string
	ColumnFamily string

	// Admin decides the admin zone. Nil keeps policies in memory.
	Admin *AdminPolicy

	Validators *ValidatorRegistry
	// Resolver is consulted for every session, before any session or
	// request resolver.
	Resolver TokenResolver

	Listener events.Listener
	Clock    clock.Clock
	Logger   zerolog.Logger
	Metrics  *telemetry.AccessMetrics
}

// Service is the process-wide access control engine. Sessions use it
// through a Manager bound to their subject.
type Service struct {
	store      storage.Client
	keyspace   string
	cf         string
	admin      *AdminPolicy
	validators *ValidatorRegistry
	resolver   TokenResolver
	listener   events.Listener
	logger     zerolog.Logger
	metrics    *telemetry.AccessMetrics
}

// NewService creates the engine.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("access control requires a store")
	}
	if deps.Keyspace == "" || deps.ColumnFamily == "" {
		return nil, fmt.Errorf("access control requires a keyspace and column family")
	}
	admin := deps.Admin
	if admin == nil {
		enforcer, err := auth.InitEnforcer(nil)
		if err != nil {
			return nil, err
		}
		admin = NewAdminPolicy(enforcer)
		if err := admin.SeedDefaults(); err != nil {
			return nil, err
		}
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	validators := deps.Validators
	if validators == nil {
		validators = NewValidatorRegistry(clk)
	}
	listener := deps.Listener
	if listener == nil {
		listener = events.Nop{}
	}
	return &Service{
		store:      deps.Store,
		keyspace:   deps.Keyspace,
		cf:         deps.ColumnFamily,
		admin:      admin,
		validators: validators,
		resolver:   deps.Resolver,
		listener:   listener,
		logger:     deps.Logger.With().Str("component", "accesscontrol").Logger(),
		metrics:    deps.Metrics,
	}, nil
}

// Validators exposes the plugin registry for registration at startup.
func (s *Service) Validators() *ValidatorRegistry { return s.validators }

// Admin exposes the admin zone policy.
func (s *Service) Admin() *AdminPolicy { return s.admin }

// ForSubject returns a Manager acting for subject.
func (s *Service) ForSubject(subject Subject) *Manager {
	return &Manager{svc: s, subject: subject}
}

func (s *Service) loadACL(ctx context.Context, zone Zone, path string) (*ACL, error) {
	row, err := s.store.Get(ctx, s.keyspace, s.cf, aclKey(zone, path))
	if err != nil {
		return nil, err
	}
	return decodeACL(zone, path, row)
}

func (s *Service) check(ctx context.Context, subject Subject, resolver TokenResolver, zone Zone, path string, want Permission) (bool, error) {
	if subject.IsAdmin() || IsElevated(ctx) {
		return true, nil
	}
	if !zone.Hierarchical() {
		return s.admin.Allowed(subject, NormalizePath(path), want)
	}
	d, err := s.newEvaluation(ctx, subject, zone, resolver).decide(path, "", want)
	if err != nil {
		return false, err
	}
	return d.granted.Has(want), nil
}

func (s *Service) effectiveACL(ctx context.Context, zone Zone, path string) (*ACL, error) {
	path = NormalizePath(path)
	if !zone.Hierarchical() {
		return s.admin.ACL(path, true)
	}
	out := NewACL(zone, path)
	chain := PathChain(path)
	for i := len(chain) - 1; i >= 0; i-- {
		a, err := s.loadACL(ctx, zone, chain[i])
		if err != nil {
			return nil, err
		}
		for _, e := range a.Entries() {
			out.set(e)
		}
	}
	return out, nil
}

func (s *Service) setACL(ctx context.Context, userID string, zone Zone, path string, mods []Modification) error {
	path = NormalizePath(path)
	if !zone.Hierarchical() {
		before, err := s.admin.ACL(path, false)
		if err != nil {
			return err
		}
		if err := s.admin.Apply(path, mods); err != nil {
			return err
		}
		s.listener.OnUpdate(ctx, events.Update(string(zone), path, userID, events.ResourceACL, before.Empty(), maskMap(before)))
		return nil
	}

	current, err := s.loadACL(ctx, zone, path)
	if err != nil {
		return err
	}
	before := maskMap(current)
	isNew := current.Empty()
	changes, err := applyModifications(current, mods)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, s.keyspace, s.cf, aclKey(zone, path), changes); err != nil {
		return fmt.Errorf("store acl %s:%s: %w", zone, path, err)
	}
	s.listener.OnUpdate(ctx, events.Update(string(zone), path, userID, events.ResourceACL, isNew, before))
	return nil
}

// objectSecret returns the signing secret of the object, creating it on
// first use.
func (s *Service) objectSecret(ctx context.Context, zone Zone, path string) (string, error) {
	a, err := s.loadACL(ctx, zone, path)
	if err != nil {
		return "", err
	}
	if a.secret != "" {
		return a.secret, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	secret := base64.RawStdEncoding.EncodeToString(buf)
	if err := s.store.Put(ctx, s.keyspace, s.cf, aclKey(zone, path), storage.Row{secretField: secret}); err != nil {
		return "", fmt.Errorf("store token secret for %s:%s: %w", zone, path, err)
	}
	return secret, nil
}

func maskMap(a *ACL) map[string]any {
	if a.Empty() {
		return nil
	}
	out := map[string]any{}
	for k, v := range a.Map() {
		out[k] = v
	}
	return out
}

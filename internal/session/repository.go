package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/casbin/casbin/v2/persist"
	"github.com/rs/zerolog"

	"github.com/zathomas/sparsemapcontent/internal/accesscontrol"
	"github.com/zathomas/sparsemapcontent/internal/auth"
	"github.com/zathomas/sparsemapcontent/internal/auth/bunadapter"
	"github.com/zathomas/sparsemapcontent/internal/authorizable"
	"github.com/zathomas/sparsemapcontent/internal/cache"
	"github.com/zathomas/sparsemapcontent/internal/config"
	"github.com/zathomas/sparsemapcontent/internal/content"
	"github.com/zathomas/sparsemapcontent/internal/events"
	"github.com/zathomas/sparsemapcontent/internal/storage"
	"github.com/zathomas/sparsemapcontent/internal/storage/bunstore"
	"github.com/zathomas/sparsemapcontent/internal/telemetry"
)

// ErrClosed is returned by a Repository after Close.
var ErrClosed = errors.New("repository is closed")

// Dependencies holds the optional collaborators of a Repository.
// Zero values select sensible defaults.
type Dependencies struct {
	// Store replaces the backend selected by Config.DatabaseURL.
	Store storage.Client

	// Resolver is consulted for proxy tokens after the tokens stored as
	// content.
	Resolver accesscontrol.TokenResolver

	Listener     events.Listener
	Clock        clock.Clock
	Logger       zerolog.Logger
	Metrics      *telemetry.AccessMetrics
	CacheMetrics *telemetry.CacheMetrics
}

// Repository is the entry point to a store.
type Repository struct {
	cfg      *config.Config
	backend  storage.Client
	store    *storage.CachingClient
	hasher   *storage.RowHasher
	access   *accesscontrol.Service
	authn    *authorizable.Authenticator
	listener events.Listener
	clock    clock.Clock
	logger   zerolog.Logger
	metrics  *telemetry.AccessMetrics
	closed   atomic.Bool
}

// Open builds a Repository from cfg and bootstraps it.
func Open(ctx context.Context, cfg *config.Config, deps Dependencies) (*Repository, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hasher, err := storage.NewRowHasher(cfg.RowHashAlgorithm)
	if err != nil {
		return nil, err
	}

	backend := deps.Store
	if backend == nil {
		if cfg.UsesMemoryStore() {
			backend = storage.NewMemoryClient(hasher)
		} else {
			backend, err = bunstore.Open(ctx, cfg.DatabaseURL, cfg.MaxDBConnections, hasher)
			if err != nil {
				return nil, err
			}
		}
	}

	// Admin zone policies persist next to the rows when the backend is
	// relational.
	var adapter persist.Adapter
	if bs, ok := backend.(*bunstore.Client); ok {
		adapter = bunadapter.NewAdapter(bs.DB())
	}
	enforcer, err := auth.InitEnforcer(adapter)
	if err != nil {
		backend.Close()
		return nil, err
	}
	admin := accesscontrol.NewAdminPolicy(enforcer)
	if err := admin.SeedDefaults(); err != nil {
		backend.Close()
		return nil, err
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	listener := deps.Listener
	if listener == nil {
		listener = events.LoggingListener{Logger: deps.Logger}
	}

	var opts []cache.Option
	if deps.CacheMetrics != nil {
		opts = append(opts, cache.WithMetrics(deps.CacheMetrics))
	}
	store := storage.NewCachingClient(backend, cache.New[storage.Row](cfg.CacheMaxSize, opts...))

	access, err := accesscontrol.NewService(accesscontrol.Dependencies{
		Store:        store,
		Keyspace:     cfg.Keyspace,
		ColumnFamily: cfg.ACLColumnFamily,
		Admin:        admin,
		Resolver: accesscontrol.ChainResolver{
			Local: content.NewTokenResolver(store, cfg.Keyspace, cfg.ContentColumnFamily),
			Next:  deps.Resolver,
		},
		Listener: listener,
		Clock:    clk,
		Logger:   deps.Logger,
		Metrics:  deps.Metrics,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	r := &Repository{
		cfg:      cfg,
		backend:  backend,
		store:    store,
		hasher:   hasher,
		access:   access,
		authn:    authorizable.NewAuthenticator(store, cfg.Keyspace, cfg.AuthorizableColumnFamily, deps.Logger),
		listener: listener,
		clock:    clk,
		logger:   deps.Logger.With().Str("component", "repository").Logger(),
		metrics:  deps.Metrics,
	}
	if err := r.bootstrap(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("bootstrap repository: %w", err)
	}
	r.logger.Info().
		Str("backend", backendName(cfg)).
		Str("row_hash", hasher.Algorithm()).
		Int("cache_max_size", cfg.CacheMaxSize).
		Msg("repository open")
	return r, nil
}

func backendName(cfg *config.Config) string {
	if cfg.UsesMemoryStore() {
		return "memory"
	}
	return "database"
}

// bootstrap creates the built-in identities and the root ACLs. Existing
// rows and non-empty root ACLs are left alone, so operator changes
// survive restarts.
func (r *Repository) bootstrap(ctx context.Context) error {
	admin := accesscontrol.Subject{UserID: auth.AdminUser, Principals: []string{auth.Administrators}}
	authz, _, access, err := r.managers(admin)
	if err != nil {
		return err
	}

	if _, err := authz.CreateUser(ctx, auth.AdminUser, "Administrator", r.cfg.AdminPassword, map[string]any{
		authorizable.PrincipalsField: auth.Administrators,
	}); err != nil {
		return err
	}
	if _, err := authz.CreateUser(ctx, auth.AnonymousUser, "Anonymous", "", nil); err != nil {
		return err
	}
	if _, err := authz.CreateGroup(ctx, auth.Administrators, "Administrators", map[string]any{
		authorizable.MembersField: auth.AdminUser,
	}); err != nil {
		return err
	}

	roots := []struct {
		zone accesscontrol.Zone
		mods []accesscontrol.Modification
	}{
		{accesscontrol.ZoneAuthorizables, []accesscontrol.Modification{
			accesscontrol.Grant(auth.Everyone, accesscontrol.Read),
			accesscontrol.Grant(auth.AnonymousUser, accesscontrol.Read),
		}},
		{accesscontrol.ZoneContent, []accesscontrol.Modification{
			accesscontrol.Grant(auth.Everyone, accesscontrol.Read),
		}},
	}
	for _, root := range roots {
		current, err := access.GetACL(ctx, root.zone, accesscontrol.RootPath)
		if err != nil {
			return err
		}
		if !current.Empty() {
			continue
		}
		if err := access.SetACL(ctx, root.zone, accesscontrol.RootPath, root.mods...); err != nil {
			return err
		}
		r.logger.Debug().Str("zone", string(root.zone)).Msg("root acl created")
	}
	return nil
}

// managers builds the per-subject managers.
func (r *Repository) managers(subject accesscontrol.Subject) (*authorizable.Manager, *content.Manager, *accesscontrol.Manager, error) {
	access := r.access.ForSubject(subject)
	authz, err := authorizable.NewManager(authorizable.Dependencies{
		Store:        r.store,
		Keyspace:     r.cfg.Keyspace,
		ColumnFamily: r.cfg.AuthorizableColumnFamily,
		Access:       access,
		Listener:     r.listener,
		Logger:       r.logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	cm, err := content.NewManager(content.Dependencies{
		Store:        r.store,
		Keyspace:     r.cfg.Keyspace,
		ColumnFamily: r.cfg.ContentColumnFamily,
		Access:       access,
		Listener:     r.listener,
		Logger:       r.logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return authz, cm, access, nil
}

// Config returns the configuration the repository was opened with.
func (r *Repository) Config() *config.Config { return r.cfg }

// Hasher returns the row addressing scheme.
func (r *Repository) Hasher() *storage.RowHasher { return r.hasher }

// Store returns the shared caching client.
func (r *Repository) Store() *storage.CachingClient { return r.store }

// AccessControl returns the access control engine, for registering token
// validators at startup.
func (r *Repository) AccessControl() *accesscontrol.Service { return r.access }

// Clear empties the shared cache.
func (r *Repository) Clear() {
	r.store.InvalidateAll()
}

// Close releases the backend. Sessions must not be used afterwards.
func (r *Repository) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.store.InvalidateAll()
	if err := r.backend.Close(); err != nil {
		return fmt.Errorf("close repository: %w", err)
	}
	r.logger.Info().Msg("repository closed")
	return nil
}

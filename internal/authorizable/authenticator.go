package authorizable

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zathomas/sparsemapcontent/internal/auth"
	"github.com/zathomas/sparsemapcontent/internal/storage"
)

// Authenticator verifies credentials against stored users. It runs below
// access control: a login happens before there is a subject to check.
type Authenticator struct {
	store    storage.Client
	keyspace string
	cf       string
	logger   zerolog.Logger
}

// NewAuthenticator creates an Authenticator over the authorizables column
// family.
func NewAuthenticator(store storage.Client, keyspace, columnFamily string, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		store:    store,
		keyspace: keyspace,
		cf:       columnFamily,
		logger:   logger.With().Str("component", "authenticator").Logger(),
	}
}

// Authenticate returns the user when password matches. Unknown ids, groups
// and wrong passwords all yield nil without error.
func (a *Authenticator) Authenticate(ctx context.Context, id, password string) (*User, error) {
	row, err := a.store.Get(ctx, a.keyspace, a.cf, id)
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", id, err)
	}
	hash := ""
	if row != nil && row.String(TypeField) != typeGroup {
		hash = row.String(PasswordField)
	}
	if !auth.CheckPassword(hash, password) {
		a.logger.Debug().Str("id", id).Msg("authentication failed")
		return nil, nil
	}
	return decode(id, row, nil).(*User), nil
}

// Lookup loads a user without checking credentials, for logins whose
// identity was established elsewhere. It returns nil for unknown ids and
// groups.
func (a *Authenticator) Lookup(ctx context.Context, id string) (*User, error) {
	row, err := a.store.Get(ctx, a.keyspace, a.cf, id)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", id, err)
	}
	if row == nil || row.String(TypeField) == typeGroup {
		return nil, nil
	}
	return decode(id, row, nil).(*User), nil
}

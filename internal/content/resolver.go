package content

import (
	"context"
	"fmt"

	"github.com/zathomas/sparsemapcontent/internal/accesscontrol"
	"github.com/zathomas/sparsemapcontent/internal/storage"
)

// TokenResolver finds proxy tokens stored as content. It reads the store
// directly: a token proves itself by its signature, not by who can read it.
type TokenResolver struct {
	store    storage.Client
	keyspace string
	cf       string
}

// NewTokenResolver resolves tokens from the content column family.
func NewTokenResolver(store storage.Client, keyspace, columnFamily string) *TokenResolver {
	return &TokenResolver{store: store, keyspace: keyspace, cf: columnFamily}
}

func (r *TokenResolver) ResolveTokens(ctx context.Context, principal string) ([]*accesscontrol.Token, error) {
	it, err := r.store.Find(ctx, r.keyspace, r.cf, map[string]any{accesscontrol.TokenPrincipalField: principal})
	if err != nil {
		return nil, fmt.Errorf("resolve tokens for %s: %w", principal, err)
	}
	defer it.Close()

	var tokens []*accesscontrol.Token
	for it.Next() {
		row := it.Row()
		t := &accesscontrol.Token{Path: row.String(PathField), Properties: map[string]any{}}
		for k, v := range row {
			if !managed(k) {
				t.Properties[k] = v
			}
		}
		tokens = append(tokens, t)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("resolve tokens for %s: %w", principal, err)
	}
	return tokens, nil
}

var _ accesscontrol.TokenResolver = (*TokenResolver)(nil)

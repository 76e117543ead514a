package accesscontrol

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Token fields. A token is an ordinary property bag, typically a stored
// content item, carrying these reserved properties.
const (
	TokenPrincipalField = "sparse:tokenPrincipal"
	TokenValidatorField = "sparse:validator"
	TokenTargetField    = "sparse:tokenTarget"
	TokenHMACField      = "sparse:hmac"
	ValidFromField      = "sparse:validFrom"
	ValidToField        = "sparse:validTo"
)

// DefaultValidator is used when a token names none.
const DefaultValidator = "expiring"

// Token is a signed assertion that its holder may act as a proxy principal
// on the object it was signed for.
type Token struct {
	// Path locates the token itself, when it is stored.
	Path       string
	Properties map[string]any
}

// NewToken returns a token for principal validated by the named plugin.
func NewToken(principal, validator string) *Token {
	if validator == "" {
		validator = DefaultValidator
	}
	return &Token{Properties: map[string]any{
		TokenPrincipalField: principal,
		TokenValidatorField: validator,
	}}
}

func (t *Token) str(field string) string {
	if t == nil {
		return ""
	}
	s, _ := t.Properties[field].(string)
	return s
}

// Principal is the proxy principal the token grants.
func (t *Token) Principal() string { return t.str(TokenPrincipalField) }

// Validator names the plugin that judges the token.
func (t *Token) Validator() string {
	if v := t.str(TokenValidatorField); v != "" {
		return v
	}
	return DefaultValidator
}

// Target is the "zone;path" the token was signed for.
func (t *Token) Target() string { return t.str(TokenTargetField) }

// SetValidity stores the window checked by the expiring validator.
func (t *Token) SetValidity(from, to time.Time) {
	t.Properties[ValidFromField] = from.UnixMilli()
	t.Properties[ValidToField] = to.UnixMilli()
}

// ValidatorPlugin judges whether a token is currently usable.
type ValidatorPlugin interface {
	// ProtectedFields lists token fields covered by the signature.
	ProtectedFields() []string
	// Validate reports whether the token may be used now.
	Validate(t *Token) bool
}

// ExpiringValidator accepts tokens inside their validity window. A token
// without sparse:validTo never validates.
type ExpiringValidator struct {
	Clock clock.Clock
}

func (v ExpiringValidator) ProtectedFields() []string {
	return []string{ValidFromField, ValidToField}
}

func (v ExpiringValidator) Validate(t *Token) bool {
	now := v.Clock.Now()
	to, ok := millis(t.Properties[ValidToField])
	if !ok || !now.Before(to) {
		return false
	}
	if from, ok := millis(t.Properties[ValidFromField]); ok && now.Before(from) {
		return false
	}
	return true
}

func millis(v any) (time.Time, bool) {
	switch n := v.(type) {
	case int64:
		return time.UnixMilli(n), true
	case int:
		return time.UnixMilli(int64(n)), true
	case float64:
		return time.UnixMilli(int64(n)), true
	case time.Time:
		return n, true
	}
	return time.Time{}, false
}

// ValidatorRegistry maps validator names to plugins.
type ValidatorRegistry struct {
	mu      sync.RWMutex
	plugins map[string]ValidatorPlugin
}

// NewValidatorRegistry returns a registry holding the expiring validator.
func NewValidatorRegistry(clk clock.Clock) *ValidatorRegistry {
	if clk == nil {
		clk = clock.New()
	}
	r := &ValidatorRegistry{plugins: map[string]ValidatorPlugin{}}
	r.Register(DefaultValidator, ExpiringValidator{Clock: clk})
	return r
}

// Register adds or replaces a plugin.
func (r *ValidatorRegistry) Register(name string, plugin ValidatorPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[name] = plugin
}

// Get returns the plugin registered under name, or nil.
func (r *ValidatorRegistry) Get(name string) ValidatorPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins[name]
}

// Names lists registered validators.
func (r *ValidatorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// signToken computes the token signature under an object's secret.
func signToken(secret, target string, t *Token, protected []string) string {
	fields := slices.Clone(protected)
	sort.Strings(fields)

	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%s\x00%s\x00%s", t.Principal(), target, t.Validator())
	for _, f := range fields {
		fmt.Fprintf(h, "\x00%s=%v", f, t.Properties[f])
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// TokenResolver returns the tokens offered for a proxy principal. Tokens
// that fail validation are ignored, so resolvers need not filter.
type TokenResolver interface {
	ResolveTokens(ctx context.Context, principal string) ([]*Token, error)
}

// TokenResolverFunc adapts a function to TokenResolver.
type TokenResolverFunc func(ctx context.Context, principal string) ([]*Token, error)

func (f TokenResolverFunc) ResolveTokens(ctx context.Context, principal string) ([]*Token, error) {
	return f(ctx, principal)
}

// StaticResolver serves fixed tokens keyed by principal.
type StaticResolver map[string][]*Token

func (s StaticResolver) ResolveTokens(_ context.Context, principal string) ([]*Token, error) {
	return s[principal], nil
}

// ChainResolver returns the union of Local's and Next's tokens. Either may
// be nil.
type ChainResolver struct {
	Local TokenResolver
	Next  TokenResolver
}

func (c ChainResolver) ResolveTokens(ctx context.Context, principal string) ([]*Token, error) {
	var out []*Token
	for _, r := range []TokenResolver{c.Local, c.Next} {
		if r == nil {
			continue
		}
		tokens, err := r.ResolveTokens(ctx, principal)
		if err != nil {
			return out, err
		}
		out = append(out, tokens...)
	}
	return out, nil
}

// chainAll chains the non-nil resolvers, returning nil when there are none.
func chainAll(resolvers ...TokenResolver) TokenResolver {
	var out TokenResolver
	for i := len(resolvers) - 1; i >= 0; i-- {
		r := resolvers[i]
		if r == nil {
			continue
		}
		if out == nil {
			out = r
			continue
		}
		out = ChainResolver{Local: r, Next: out}
	}
	return out
}

type requestResolverKey struct{}

// WithRequestResolver installs a resolver for calls made with the returned
// context. Installing again replaces it; passing nil clears it.
func WithRequestResolver(ctx context.Context, r TokenResolver) context.Context {
	return context.WithValue(ctx, requestResolverKey{}, r)
}

// RequestResolver returns the resolver installed on ctx, or nil.
func RequestResolver(ctx context.Context) TokenResolver {
	r, _ := ctx.Value(requestResolverKey{}).(TokenResolver)
	return r
}

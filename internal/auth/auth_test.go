package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/zathomas/sparsemapcontent/internal/errdefs"
)

func TestProxyPrincipal(t *testing.T) {
	p := ProxyPrincipal("share-1")
	assert.Equal(t, "proxy:share-1", p)
	assert.True(t, IsProxyPrincipal(p))
	assert.False(t, IsProxyPrincipal("proxy:"))
	assert.False(t, IsProxyPrincipal("alice"))

	name, err := ExtractProxyName(p)
	require.NoError(t, err)
	assert.Equal(t, "share-1", name)

	_, err = ExtractProxyName("alice")
	assert.Error(t, err)
}

func TestSplitJoinPrincipals(t *testing.T) {
	assert.Nil(t, SplitPrincipals(""))
	assert.Equal(t, []string{"g1", "g2"}, SplitPrincipals("g1;;g2; g1"))
	assert.Equal(t, "g1;g2", JoinPrincipals([]string{"g1", "", "g2", "g1"}))
	assert.True(t, IsReservedID(AdminUser))
	assert.False(t, IsReservedID("alice"))
}

func TestPassword(t *testing.T) {
	old := PasswordCost
	PasswordCost = bcrypt.MinCost
	defer func() { PasswordCost = old }()

	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("", "s3cret"))

	_, err = HashPassword("")
	assert.Error(t, err)
}

func TestPassword_MissCostsTheSameAsWrongPassword(t *testing.T) {
	old := PasswordCost
	defer func() { PasswordCost = old }()

	for _, cost := range []int{bcrypt.MinCost, bcrypt.MinCost + 1} {
		PasswordCost = cost
		assert.False(t, CheckPassword("", "anything"))
		got, err := bcrypt.Cost(dummyHash())
		require.NoError(t, err)
		assert.Equal(t, cost, got)
	}
}

func TestTrustedToken_RoundTrip(t *testing.T) {
	secret := []byte("shared")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	token := EncodeTrustedToken(secret, "alice", now)
	parts := strings.Split(token, ";")
	require.Len(t, parts, 3)
	assert.Equal(t, "alice", parts[1])

	principal, err := DecodeTrustedToken(secret, token, now.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal)
}

func TestTrustedToken_PrincipalWithSeparator(t *testing.T) {
	secret := []byte("shared")
	now := time.Now()
	token := EncodeTrustedToken(secret, "odd;name", now)

	principal, err := DecodeTrustedToken(secret, token, now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "odd;name", principal)
}

func TestTrustedToken_Rejects(t *testing.T) {
	secret := []byte("shared")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := EncodeTrustedToken(secret, "alice", now)

	tests := []struct {
		name   string
		secret []byte
		token  string
		at     time.Time
	}{
		{"expired", secret, token, now.Add(10 * time.Minute)},
		{"future", secret, token, now.Add(-10 * time.Minute)},
		{"wrong secret", []byte("other"), token, now},
		{"no secret", nil, token, now},
		{"tampered principal", secret, strings.Replace(token, ";alice;", ";mallory;", 1), now},
		{"malformed", secret, "garbage", now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTrustedToken(tt.secret, tt.token, tt.at, 5*time.Minute)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errdefs.ErrInvalidToken))
		})
	}
}

func TestEnforcer_DenyOverridesAllow(t *testing.T) {
	e, err := InitEnforcer(nil)
	require.NoError(t, err)

	_, err = e.AddPolicy(Administrators, "*", ActionAnything, EffectAllow)
	require.NoError(t, err)
	_, err = e.AddPolicy("ops", "users/*", "read", EffectAllow)
	require.NoError(t, err)
	_, err = e.AddPolicy("contractors", "users/*", "read", EffectDeny)
	require.NoError(t, err)

	ok, err := e.Enforce(RequestSubject("admin", Administrators, Everyone), "users", "write")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Enforce(RequestSubject("bob", "ops", Everyone), "users/list", "read")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Enforce(RequestSubject("carol", "ops", "contractors", Everyone), "users/list", "read")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.Enforce(RequestSubject("bob", "ops", Everyone), "users/list", "write")
	require.NoError(t, err)
	assert.False(t, ok)
}

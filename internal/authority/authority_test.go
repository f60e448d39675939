package authority

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"trend-oracle/internal/domain"
)

func TestZeroGrantIsInvalid(t *testing.T) {
	require.ErrorIs(t, Require(Grant{}), domain.ErrUnauthorized)
	require.NoError(t, Require(Local("cli")))
	require.Equal(t, "cli", Local("cli").Subject())
}

func TestTokens(t *testing.T) {
	_, err := NewTokens([]string{" ", ""})
	require.Error(t, err)

	a, err := NewTokens([]string{"alpha", " beta "})
	require.NoError(t, err)

	g, err := a.Authorize(context.Background(), "beta")
	require.NoError(t, err)
	require.True(t, g.Valid())
	require.Equal(t, "token-2", g.Subject())

	g, err = a.Authorize(context.Background(), "gamma")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.False(t, g.Valid())
}

func TestDeny(t *testing.T) {
	_, err := Deny{}.Authorize(context.Background(), "anything")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func newTestJWT(t *testing.T) *JWT {
	t.Helper()
	j, err := NewJWT(JWTOptions{Secret: "s3cret", Issuer: "ops", Audience: "trend-oracle"})
	require.NoError(t, err)
	return j
}

func claimsWith(scope string, expiresIn time.Duration) Claims {
	return Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "relay",
			Issuer:    "ops",
			Audience:  jwt.ClaimStrings{"trend-oracle"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestJWTAcceptsScopedToken(t *testing.T) {
	j := newTestJWT(t)
	token, err := j.Sign(claimsWith("oracle:read oracle:write", time.Hour))
	require.NoError(t, err)

	g, err := j.Authorize(context.Background(), token)
	require.NoError(t, err)
	require.True(t, g.Valid())
	require.Equal(t, "relay", g.Subject())
}

func TestJWTRejections(t *testing.T) {
	j := newTestJWT(t)

	cases := map[string]func() string{
		"missing scope": func() string {
			tok, _ := j.Sign(claimsWith("oracle:read", time.Hour))
			return tok
		},
		"expired": func() string {
			tok, _ := j.Sign(claimsWith(WriteScope, -time.Hour))
			return tok
		},
		"wrong issuer": func() string {
			c := claimsWith(WriteScope, time.Hour)
			c.Issuer = "someone-else"
			tok, _ := j.Sign(c)
			return tok
		},
		"wrong secret": func() string {
			other, _ := NewJWT(JWTOptions{Secret: "other"})
			tok, _ := other.Sign(claimsWith(WriteScope, time.Hour))
			return tok
		},
		"wrong algorithm": func() string {
			tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claimsWith(WriteScope, time.Hour)).SignedString([]byte("s3cret"))
			return tok
		},
		"garbage": func() string { return "not-a-jwt" },
	}

	for name, mk := range cases {
		t.Run(name, func(t *testing.T) {
			g, err := j.Authorize(context.Background(), mk())
			require.ErrorIs(t, err, domain.ErrUnauthorized)
			require.False(t, g.Valid())
		})
	}
}

func TestNewJWTRequiresSecret(t *testing.T) {
	_, err := NewJWT(JWTOptions{})
	require.Error(t, err)
}

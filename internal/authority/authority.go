// Package authority mints Grants, the capability every mutating oracle call
// requires. Only an Authorizer can produce a valid Grant.
package authority

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"trend-oracle/internal/domain"
)

// Grant proves a caller was authorised. The zero Grant is invalid.
type Grant struct {
	subject string
	valid   bool
}

// Valid reports whether g was minted by an Authorizer.
func (g Grant) Valid() bool { return g.valid }

// Subject names the authorised principal.
func (g Grant) Subject() string { return g.subject }

// Require returns domain.ErrUnauthorized unless g is valid.
func Require(g Grant) error {
	if !g.valid {
		return domain.ErrUnauthorized
	}
	return nil
}

// Authorizer verifies a bearer credential.
type Authorizer interface {
	Authorize(ctx context.Context, credential string) (Grant, error)
}

// Local mints a grant for in-process callers such as the CLI and the relay
// job, which act with the operator's own authority.
func Local(subject string) Grant {
	return Grant{subject: subject, valid: true}
}

// Tokens accepts a fixed set of static bearer tokens.
type Tokens struct {
	tokens [][]byte
}

// NewTokens builds a static-token authorizer. Blank entries are ignored.
func NewTokens(tokens []string) (*Tokens, error) {
	t := &Tokens{}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		t.tokens = append(t.tokens, []byte(tok))
	}
	if len(t.tokens) == 0 {
		return nil, errors.New("at least one authority token is required")
	}
	return t, nil
}

// Authorize compares credential against every configured token in constant time.
func (t *Tokens) Authorize(_ context.Context, credential string) (Grant, error) {
	cred := []byte(credential)
	match := 0
	for i, tok := range t.tokens {
		if subtle.ConstantTimeCompare(cred, tok) == 1 {
			match = i + 1
		}
	}
	if match == 0 {
		return Grant{}, fmt.Errorf("%w: unknown token", domain.ErrUnauthorized)
	}
	return Grant{subject: fmt.Sprintf("token-%d", match), valid: true}, nil
}

// Deny rejects every credential. Used when no authority is configured.
type Deny struct{}

// Authorize implements Authorizer.
func (Deny) Authorize(context.Context, string) (Grant, error) {
	return Grant{}, fmt.Errorf("%w: authority not configured", domain.ErrUnauthorized)
}

var (
	_ Authorizer = (*Tokens)(nil)
	_ Authorizer = Deny{}
)

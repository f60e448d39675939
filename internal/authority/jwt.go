package authority

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"trend-oracle/internal/domain"
)

// WriteScope must be present in a token's scope claim.
const WriteScope = "oracle:write"

// Claims are the JWT claims accepted by the oracle.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Scopes splits the space-delimited scope claim.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// JWTOptions configure the JWT authorizer.
type JWTOptions struct {
	Secret   string
	Issuer   string
	Audience string
}

// JWT verifies HS256 tokens.
type JWT struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWT builds a JWT authorizer.
func NewJWT(opts JWTOptions) (*JWT, error) {
	if opts.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	return &JWT{secret: []byte(opts.Secret), parser: jwt.NewParser(parserOpts...)}, nil
}

// Authorize validates the token signature, registered claims and scope.
func (j *JWT) Authorize(_ context.Context, credential string) (Grant, error) {
	claims := &Claims{}
	token, err := j.parser.ParseWithClaims(credential, claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	})
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if !token.Valid {
		return Grant{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	if !slices.Contains(claims.Scopes(), WriteScope) {
		return Grant{}, fmt.Errorf("%w: missing scope %s", domain.ErrUnauthorized, WriteScope)
	}

	subject := claims.Subject
	if subject == "" {
		subject = "jwt"
	}
	return Grant{subject: subject, valid: true}, nil
}

// Sign issues a token for claims. Intended for operators minting credentials.
func (j *JWT) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

var _ Authorizer = (*JWT)(nil)

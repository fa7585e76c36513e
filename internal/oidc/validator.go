package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// acceptedAlgorithms are the signature schemes the identity provider
// signs with. Anything else is rejected before signature verification.
var acceptedAlgorithms = []string{"RS256", "RS384", "RS512"}

// ErrInvalidToken reports a bearer token that failed validation for any
// reason other than the identity provider being unreachable.
var ErrInvalidToken = errors.New("oidc: invalid token")

// Claims is the verified claim set of a token, exactly as embedded in
// the token payload.
type Claims map[string]interface{}

// String returns the named claim as a string, or "" when absent or of
// another type.
func (c Claims) String(name string) string {
	if v, ok := c[name].(string); ok {
		return v
	}
	return ""
}

// Subject returns the sub claim.
func (c Claims) Subject() string {
	return c.String("sub")
}

// Validator verifies bearer tokens issued by the configured identity
// provider.
type Validator struct {
	resolver *KeyResolver
}

// NewValidator creates a validator backed by the given key resolver.
func NewValidator(resolver *KeyResolver) *Validator {
	return &Validator{resolver: resolver}
}

// Validate verifies the raw bearer token and returns its claims
// unaltered. The check chain: extract kid from the unverified header,
// resolve the signing key, verify the signature with one of the
// accepted RSA algorithms, verify exp and iat, then verify the issuer
// against the discovery document. The audience claim is deliberately
// not checked; the gateway fronts a public client.
//
// Every failure is returned as an error wrapping ErrInvalidToken, or
// ErrDiscoveryUnavailable when the identity provider could not be
// reached. Validate never panics on malformed input.
func (v *Validator) Validate(ctx context.Context, tokenString string) (Claims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(acceptedAlgorithms))

	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return v.resolver.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrDiscoveryUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	// The document is cached at this point; resolving the key above
	// fetched it.
	doc, err := v.resolver.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	if !claims.VerifyIssuer(doc.Issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}

	return Claims(claims), nil
}

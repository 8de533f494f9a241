package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/liverace/backend/internal/model"
)

// tokenClaims is the claims layout of an access token.
type tokenClaims struct {
	jwt.RegisteredClaims
	Name     string   `json:"name,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
}

// TokenIntrospector verifies HMAC-signed bearer tokens and maps their claims
// to identities. Malformed, expired, or mis-scoped tokens resolve to the
// empty identity; they are never resolver errors.
type TokenIntrospector struct {
	issuer string
	secret []byte
	now    func() time.Time
}

// NewTokenIntrospector creates an introspector for tokens from the issuer.
func NewTokenIntrospector(issuer string, secret []byte) *TokenIntrospector {
	return &TokenIntrospector{
		issuer: issuer,
		secret: secret,
		now:    time.Now,
	}
}

func (t *TokenIntrospector) introspect(token string) (*tokenClaims, bool) {
	if token == "" {
		return nil, false
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return nil, false
	}
	return claims, true
}

// ResolveUser implements Resolver.
func (t *TokenIntrospector) ResolveUser(_ context.Context, token, scope string) (model.UserIdentity, error) {
	claims, ok := t.introspect(token)
	if !ok || claims.Subject == "" {
		return model.UserIdentity{}, nil
	}

	identity := model.UserIdentity{
		ID:     claims.Subject,
		Name:   claims.Name,
		Scopes: claims.Scopes,
	}
	if scope != "" && !identity.HasScope(scope) {
		return model.UserIdentity{}, nil
	}
	return identity, nil
}

// ResolveClient implements Resolver.
func (t *TokenIntrospector) ResolveClient(_ context.Context, token string) (string, error) {
	claims, ok := t.introspect(token)
	if !ok {
		return "", nil
	}
	return claims.ClientID, nil
}

// IssueToken signs an access token for the given identity. Used by dev
// seeding and tests; production tokens come from the authorization server.
func (t *TokenIntrospector) IssueToken(subject, name string, scopes []string, clientID string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := &tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:     name,
		Scopes:   scopes,
		ClientID: clientID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Package identity turns bearer credentials into Actors. The verifier is a
// collaborator boundary: the core only needs {uid, email?, role?, tenant?}
// out of whatever token infrastructure fronts the deployment.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"deskline/internal/domain"
)

// Credential is the verified identity extracted from a bearer token.
type Credential struct {
	UID      string
	Email    string
	Role     domain.Role
	TenantID string
}

// Actor converts the credential into the per-request actor.
func (c Credential) Actor() domain.Actor {
	return domain.Actor{ID: c.UID, Role: c.Role, TenantID: c.TenantID}
}

type claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

// Verifier validates HS256 tokens.
type Verifier struct {
	Secret string
}

// Verify parses and validates a token, returning the credential.
func (v Verifier) Verify(token string) (Credential, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return Credential{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	cl := &claims{}
	parsed, err := parser.ParseWithClaims(token, cl, func(t *jwt.Token) (any, error) {
		return []byte(v.Secret), nil
	})
	if err != nil {
		return Credential{}, err
	}
	if !parsed.Valid {
		return Credential{}, errors.New("invalid token")
	}
	if cl.Subject == "" {
		return Credential{}, errors.New("subject claim required")
	}
	return Credential{
		UID:      cl.Subject,
		Email:    cl.Email,
		Role:     domain.Role(cl.Role),
		TenantID: cl.TenantID,
	}, nil
}

// Issue mints a token for the credential. Used by the dev token command and
// tests.
func (v Verifier) Issue(c Credential, ttl time.Duration) (string, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if c.UID == "" {
		return "", errors.New("uid required")
	}
	now := time.Now()
	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:    c.Email,
		Role:     string(c.Role),
		TenantID: c.TenantID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString([]byte(v.Secret))
}

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceClaims are the claims expected on service tokens.
type ServiceClaims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
}

// TokenValidator validates HS256 service tokens against a shared
// secret.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator creates a validator. A nil or empty secret
// disables the token path entirely.
func NewTokenValidator(secret []byte) *TokenValidator {
	if len(secret) == 0 {
		return nil
	}
	return &TokenValidator{secret: secret}
}

// Validate parses and verifies a service token, returning its
// principal. Tokens must carry both a subject and the org claim.
func (v *TokenValidator) Validate(tokenStr string) (*Principal, error) {
	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}
	if claims.OrgID == "" {
		return nil, fmt.Errorf("token org binding is required")
	}
	return &Principal{ID: claims.Subject, OrgID: claims.OrgID, Type: PrincipalService}, nil
}

// IssueServiceToken signs a service token for an organization. Used by
// the token command and by tests.
func IssueServiceToken(secret []byte, orgID, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "aigrcd",
		},
		OrgID: orgID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

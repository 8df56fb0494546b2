// Package auth resolves bearer credentials to an organization-scoped
// principal.
//
// Two credential forms are accepted on the same Authorization header:
// static API keys registered in a KeyRing, and HS256 service tokens
// carrying the org claim. The package only answers who is calling;
// writing 401 responses is the HTTP layer's job.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

// PrincipalType distinguishes how the caller authenticated.
type PrincipalType string

const (
	PrincipalAPIKey  PrincipalType = "api_key"
	PrincipalService PrincipalType = "service"
)

// Principal is the authenticated caller. OrgID scopes every downstream
// read and write.
type Principal struct {
	ID    string
	OrgID string
	Type  PrincipalType
}

// Authentication failures. All of them surface to clients as 401.
var (
	ErrMissingCredentials = errors.New("auth: missing Authorization header")
	ErrMalformedHeader    = errors.New("auth: Authorization header is not 'Bearer <token>'")
	ErrUnknownCredentials = errors.New("auth: credentials not recognized")
)

// Authenticator checks bearer credentials against the configured key
// ring and token validator. A nil field disables that form; with both
// nil every request is rejected.
type Authenticator struct {
	Keys   *KeyRing
	Tokens *TokenValidator
}

// Authenticate resolves the request's bearer credential to a principal.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingCredentials
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return nil, ErrMalformedHeader
	}
	credential := parts[1]

	if a.Keys != nil {
		if p, ok := a.Keys.Lookup(credential); ok {
			return p, nil
		}
	}
	// Service tokens are three dot-separated segments; anything else
	// cannot be a JWT and is not worth parsing.
	if a.Tokens != nil && strings.Count(credential, ".") == 2 {
		if p, err := a.Tokens.Validate(credential); err == nil {
			return p, nil
		}
	}
	return nil, ErrUnknownCredentials
}

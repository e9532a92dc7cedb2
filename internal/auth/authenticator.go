package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/loomtale/loomtale/internal/shared"
)

// APIKeyHeader carries a raw API key.
const APIKeyHeader = "X-API-Key"

// Authenticator is one way of proving identity. Applies reports whether the
// request carries this kind of credential at all; Authenticate verifies it.
type Authenticator interface {
	Name() string
	Applies(r *http.Request) bool
	Authenticate(ctx context.Context, r *http.Request) (*Account, error)
}

// APIKeyAuthenticator verifies keys sent in the X-API-Key header.
type APIKeyAuthenticator struct {
	repo Repository
}

// NewAPIKeyAuthenticator builds an APIKeyAuthenticator.
func NewAPIKeyAuthenticator(repo Repository) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{repo: repo}
}

// Name implements Authenticator.
func (a *APIKeyAuthenticator) Name() string { return "api_key" }

// Applies implements Authenticator.
func (a *APIKeyAuthenticator) Applies(r *http.Request) bool {
	return strings.TrimSpace(r.Header.Get(APIKeyHeader)) != ""
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Account, error) {
	acc, err := a.repo.FindByAPIKeyHash(ctx, HashAPIKey(strings.TrimSpace(r.Header.Get(APIKeyHeader))))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.ErrInvalidCredentials
	}
	return acc, err
}

// SessionAuthenticator verifies the logged-in user of the request session.
type SessionAuthenticator struct {
	repo Repository
}

// NewSessionAuthenticator builds a SessionAuthenticator.
func NewSessionAuthenticator(repo Repository) *SessionAuthenticator {
	return &SessionAuthenticator{repo: repo}
}

// Name implements Authenticator.
func (a *SessionAuthenticator) Name() string { return "session" }

// Applies implements Authenticator.
func (a *SessionAuthenticator) Applies(r *http.Request) bool {
	sess := shared.SessionFromContext(r.Context())
	return sess != nil && sess.User() != ""
}

// Authenticate implements Authenticator.
func (a *SessionAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Account, error) {
	sess := shared.SessionFromContext(ctx)
	if sess == nil || sess.User() == "" {
		return nil, shared.ErrInvalidCredentials
	}
	acc, err := a.repo.FindByID(ctx, sess.User())
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.ErrInvalidCredentials
	}
	return acc, err
}

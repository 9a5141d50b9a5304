// Package auth validates bsk_ API keys and resolves the tenant context a
// request runs under.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// TenantContext holds the authenticated tenant's configuration.
type TenantContext struct {
	TenantID            string
	Mode                string // per-tenant mode override; "" means use policy mode
	FailOpen            bool
	Admin               bool
	ExplainabilityLevel string // "basic" or "advanced"
}

// Authenticator validates incoming requests and returns tenant context.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*TenantContext, error)
}

// APIKeyFromRequest extracts a bsk_ key from the Authorization header.
// RFC 6750: the "Bearer" scheme is case-insensitive.
func APIKeyFromRequest(r *http.Request) (string, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return "", ErrMissingAPIKey
	}
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	token = strings.TrimSpace(token)

	if !strings.HasPrefix(token, "bsk_") {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// StaticAuthenticator accepts any well-formed bsk_ key without a database.
// Used for local development and tests.
type StaticAuthenticator struct {
	Admin bool
	Level string
}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{Admin: true, Level: "advanced"}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, apiKey string) (*TenantContext, error) {
	if !strings.HasPrefix(apiKey, "bsk_") {
		return nil, ErrInvalidAPIKey
	}
	level := a.Level
	if level == "" {
		level = "basic"
	}
	return &TenantContext{
		TenantID:            "local",
		Admin:               a.Admin,
		ExplainabilityLevel: level,
	}, nil
}

type ctxKey struct{}

// WithTenant stores the tenant context on a request context.
func WithTenant(ctx context.Context, t *TenantContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// TenantFromContext returns the tenant context set by the auth middleware,
// or nil if the request was not authenticated.
func TenantFromContext(ctx context.Context) *TenantContext {
	t, _ := ctx.Value(ctxKey{}).(*TenantContext)
	return t
}

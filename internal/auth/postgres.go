package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/guardline-ai/bastion/internal/store"
)

// TenantStore abstracts DB queries for testability.
type TenantStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*store.TenantWithEntitlements, error)
}

// PostgresAuthenticator validates API keys against the tenants table.
// Uses AuthCache with stale-while-revalidate to avoid DB + bcrypt on the hot
// path. Auth failures always return an error — nothing runs without valid
// auth; fail-open applies to the detector/audit path, never to auth.
type PostgresAuthenticator struct {
	store  TenantStore
	cache  *AuthCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	Store    TenantStore
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new authenticator backed by PostgreSQL.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &PostgresAuthenticator{
		store:  cfg.Store,
		cache:  NewAuthCache(ttl),
		logger: cfg.Logger,
	}
}

// Authenticate validates the API key against the database.
//
// Flow:
//  1. Cache lookup (stale-while-revalidate):
//     - Fresh hit: return immediately
//     - Stale hit: return stale tenant, spawn background refresh
//     - Miss: do full DB + bcrypt lookup synchronously
//  2. On a DB error the request is rejected with ErrAuthUnavailable.
func (a *PostgresAuthenticator) Authenticate(ctx context.Context, apiKey string) (*TenantContext, error) {
	result := a.cache.Get(apiKey)
	if result.Hit {
		if result.NeedsRefresh {
			go a.backgroundRefresh(apiKey)
		}
		return result.Tenant, nil
	}

	tenant, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrInvalidAPIKey) {
			return nil, ErrInvalidAPIKey
		}
		a.logger.Warn("auth DB unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}

	a.cache.Set(apiKey, tenant)
	return tenant, nil
}

// backgroundRefresh performs the DB + bcrypt lookup in a background goroutine.
// Errors are logged but don't affect the caller (they already got the stale value).
func (a *PostgresAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tenant, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background cache refresh failed", zap.Error(err))
		// Drop the stale entry so the next stale read retries.
		a.cache.Delete(apiKey)
		return
	}

	a.cache.Set(apiKey, tenant)
}

// lookupAndVerify does the full DB prefix lookup + bcrypt verification.
func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*TenantContext, error) {
	// api_key_prefix is the first 8 chars (e.g. "bsk_abcd")
	if len(apiKey) < 8 {
		return nil, ErrInvalidAPIKey
	}
	prefix := apiKey[:8]

	row, err := a.store.LookupByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}
	if row == nil {
		// No tenant with this prefix — reject, don't fail open.
		return nil, ErrInvalidAPIKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	return &TenantContext{
		TenantID:            row.ID,
		Mode:                row.Mode,
		FailOpen:            row.FailOpen,
		Admin:               row.Admin,
		ExplainabilityLevel: row.ExplainabilityLevel,
	}, nil
}

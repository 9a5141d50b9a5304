package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Tenant represents a row in the tenants table.
type Tenant struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	Mode         string // per-tenant mode override: "", "off", "shadow", "enforce"
	FailOpen     bool
	Admin        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TenantWithEntitlements is a Tenant joined with its entitlement row
// (for auth lookups).
type TenantWithEntitlements struct {
	Tenant
	ExplainabilityLevel string // "basic" when no entitlement row exists
}

// UpdateTenantParams holds optional fields for partial tenant updates.
type UpdateTenantParams struct {
	Name     *string
	Mode     *string
	FailOpen *bool
	Admin    *bool
}

// GenerateAPIKey creates a new bsk_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "bsk_" + hex.EncodeToString(raw) // 68 chars total

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:8] // "bsk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

const tenantColumns = `id, name, api_key_hash, api_key_prefix, mode, fail_open,
	       admin, created_at, updated_at`

// CreateTenant inserts a new tenant and its default entitlement row in a
// single transaction. Returns the tenant and plaintext API key (shown once).
func (s *Store) CreateTenant(ctx context.Context, name string) (*Tenant, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateTenant: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("CreateTenant: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var t Tenant
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenants (name, api_key_hash, api_key_prefix)
		VALUES ($1, $2, $3)
		RETURNING `+tenantColumns,
		name, keyHash, keyPrefix,
	).Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.APIKeyPrefix, &t.Mode, &t.FailOpen,
		&t.Admin, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateTenant: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entitlements (tenant_id, explainability_level)
		VALUES ($1, 'basic')`, t.ID)
	if err != nil {
		return nil, "", fmt.Errorf("CreateTenant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("CreateTenant: %w", err)
	}

	return &t, fullKey, nil
}

// GetTenant returns a tenant by ID, or nil if not found.
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.APIKeyPrefix,
		&t.Mode, &t.FailOpen, &t.Admin, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetTenant: %w", err)
	}
	return &t, nil
}

// ListTenants returns all tenants ordered by creation time, newest first.
func (s *Store) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListTenants: %w", err)
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.APIKeyPrefix,
			&t.Mode, &t.FailOpen, &t.Admin, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListTenants: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// UpdateTenant applies a partial update. Only non-nil fields are changed.
func (s *Store) UpdateTenant(ctx context.Context, id string, params UpdateTenantParams) (*Tenant, error) {
	var t Tenant
	err := s.db.QueryRowContext(ctx, `
		UPDATE tenants SET
			name       = COALESCE($2, name),
			mode       = COALESCE($3, mode),
			fail_open  = COALESCE($4, fail_open),
			admin      = COALESCE($5, admin),
			updated_at = now()
		WHERE id = $1
		RETURNING `+tenantColumns,
		id, params.Name, params.Mode, params.FailOpen, params.Admin,
	).Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.APIKeyPrefix,
		&t.Mode, &t.FailOpen, &t.Admin, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateTenant: %w", err)
	}
	return &t, nil
}

// RotateAPIKey generates a new API key for a tenant.
// Returns the updated tenant and the plaintext key (shown once).
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Tenant, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	var t Tenant
	err = s.db.QueryRowContext(ctx, `
		UPDATE tenants SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			updated_at     = now()
		WHERE id = $1
		RETURNING `+tenantColumns,
		id, keyHash, keyPrefix,
	).Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.APIKeyPrefix,
		&t.Mode, &t.FailOpen, &t.Admin, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("RotateAPIKey: tenant not found")
	}
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	return &t, fullKey, nil
}

// LookupByPrefix finds a tenant by API key prefix (first 8 chars).
// Used by auth to narrow candidates before bcrypt verify.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*TenantWithEntitlements, error) {
	var tw TenantWithEntitlements
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.name, t.api_key_hash, t.api_key_prefix, t.mode, t.fail_open,
		       t.admin, t.created_at, t.updated_at,
		       COALESCE(e.explainability_level, 'basic')
		FROM tenants t
		LEFT JOIN entitlements e ON e.tenant_id = t.id
		WHERE t.api_key_prefix = $1`, prefix,
	).Scan(&tw.ID, &tw.Name, &tw.APIKeyHash, &tw.APIKeyPrefix,
		&tw.Mode, &tw.FailOpen, &tw.Admin, &tw.CreatedAt, &tw.UpdatedAt,
		&tw.ExplainabilityLevel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	return &tw, nil
}

// SetEntitlement upserts a tenant's explainability level.
func (s *Store) SetEntitlement(ctx context.Context, tenantID, level string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entitlements (tenant_id, explainability_level)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET
			explainability_level = EXCLUDED.explainability_level,
			updated_at           = now()`,
		tenantID, level)
	if err != nil {
		return fmt.Errorf("SetEntitlement: %w", err)
	}
	return nil
}

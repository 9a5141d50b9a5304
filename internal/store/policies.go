package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/guardline-ai/bastion/internal/policy"
)

// policyRow mirrors the firewall_policies table. Rules live in a JSONB column;
// version is a monotonic integer bumped by every write.
type policyRow struct {
	ID        string
	Name      string
	Mode      string
	Version   int
	Rules     json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *policyRow) toPolicy() (*policy.Policy, error) {
	p := &policy.Policy{
		ID:        r.ID,
		Name:      r.Name,
		Mode:      policy.Mode(r.Mode),
		Version:   strconv.Itoa(r.Version),
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Rules) > 0 {
		if err := json.Unmarshal(r.Rules, &p.Rules); err != nil {
			return nil, fmt.Errorf("toPolicy: %w", err)
		}
	}
	return p, nil
}

const policyColumns = `id, name, mode, version, rules, created_at, updated_at`

func scanPolicy(row interface{ Scan(...any) error }) (*policy.Policy, error) {
	var r policyRow
	err := row.Scan(&r.ID, &r.Name, &r.Mode, &r.Version, &r.Rules,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.toPolicy()
}

// CreatePolicy inserts a new policy at version 1.
func (s *Store) CreatePolicy(ctx context.Context, p *policy.Policy) (*policy.Policy, error) {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return nil, fmt.Errorf("CreatePolicy: %w", err)
	}
	out, err := scanPolicy(s.db.QueryRowContext(ctx, `
		INSERT INTO firewall_policies (id, name, mode, version, rules)
		VALUES ($1, $2, $3, 1, $4)
		RETURNING `+policyColumns,
		p.ID, p.Name, string(p.Mode), rules,
	))
	if err != nil {
		return nil, fmt.Errorf("CreatePolicy: %w", err)
	}
	return out, nil
}

// GetPolicy returns a policy by ID, or nil if not found.
func (s *Store) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	out, err := scanPolicy(s.db.QueryRowContext(ctx, `
		SELECT `+policyColumns+` FROM firewall_policies WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("GetPolicy: %w", err)
	}
	return out, nil
}

// ListPolicies returns all policies ordered by created_at DESC.
func (s *Store) ListPolicies(ctx context.Context) ([]*policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+policyColumns+` FROM firewall_policies ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListPolicies: %w", err)
	}
	defer rows.Close()

	var out []*policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("ListPolicies: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePolicyParams holds optional fields for partial policy updates.
type UpdatePolicyParams struct {
	Name  *string            // nil = don't change
	Mode  *string            // nil = don't change
	Rules []policy.Guardrail // nil = don't change
}

// UpdatePolicy applies a partial update and bumps the version. Only non-nil
// fields are changed; every successful update increments version even when
// the new values equal the old ones.
func (s *Store) UpdatePolicy(ctx context.Context, id string, params UpdatePolicyParams) (*policy.Policy, error) {
	var rules any
	if params.Rules != nil {
		raw, err := json.Marshal(params.Rules)
		if err != nil {
			return nil, fmt.Errorf("UpdatePolicy: %w", err)
		}
		rules = json.RawMessage(raw)
	}
	out, err := scanPolicy(s.db.QueryRowContext(ctx, `
		UPDATE firewall_policies SET
			name       = COALESCE($2, name),
			mode       = COALESCE($3, mode),
			rules      = COALESCE($4, rules),
			version    = version + 1,
			updated_at = now()
		WHERE id = $1
		RETURNING `+policyColumns,
		id, params.Name, params.Mode, rules,
	))
	if err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}
	return out, nil
}

// DeletePolicy deletes a policy by ID. Route bindings cascade.
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM firewall_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeletePolicy: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RouteBinding maps a gateway path prefix to a policy. The gateway picks the
// longest enabled prefix matching the proxied path; unmatched paths run with
// the snapshot default.
type RouteBinding struct {
	ID         string
	PathPrefix string
	PolicyID   string
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const routeColumns = `id, path_prefix, policy_id, enabled, created_at, updated_at`

// UpsertRouteBinding creates or updates the binding for a path prefix.
func (s *Store) UpsertRouteBinding(ctx context.Context, pathPrefix, policyID string, enabled bool) (*RouteBinding, error) {
	var b RouteBinding
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO route_bindings (path_prefix, policy_id, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (path_prefix) DO UPDATE SET
			policy_id  = EXCLUDED.policy_id,
			enabled    = EXCLUDED.enabled,
			updated_at = now()
		RETURNING `+routeColumns,
		pathPrefix, policyID, enabled,
	).Scan(&b.ID, &b.PathPrefix, &b.PolicyID, &b.Enabled, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("UpsertRouteBinding: %w", err)
	}
	return &b, nil
}

// ListRouteBindings returns all bindings, longest prefix first so the caller
// can take the first match.
func (s *Store) ListRouteBindings(ctx context.Context) ([]*RouteBinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+routeColumns+` FROM route_bindings
		ORDER BY length(path_prefix) DESC, path_prefix`)
	if err != nil {
		return nil, fmt.Errorf("ListRouteBindings: %w", err)
	}
	defer rows.Close()

	var out []*RouteBinding
	for rows.Next() {
		var b RouteBinding
		if err := rows.Scan(&b.ID, &b.PathPrefix, &b.PolicyID, &b.Enabled,
			&b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListRouteBindings: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// DeleteRouteBinding removes a binding by path prefix.
func (s *Store) DeleteRouteBinding(ctx context.Context, pathPrefix string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM route_bindings WHERE path_prefix = $1`, pathPrefix)
	if err != nil {
		return fmt.Errorf("DeleteRouteBinding: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

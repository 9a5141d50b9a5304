package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/guardline-ai/bastion/internal/policy"
)

// ErrorResp is the generic error body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// CreatePolicyReq is the POST /api/firewall/policies body.
type CreatePolicyReq struct {
	ID    string             `json:"id"`
	Name  string             `json:"name"`
	Mode  string             `json:"mode"`
	Rules []policy.Guardrail `json:"rules"`
}

// UpdatePolicyReq is the PATCH body; nil fields are left unchanged.
type UpdatePolicyReq struct {
	Name  *string            `json:"name"`
	Mode  *string            `json:"mode"`
	Rules []policy.Guardrail `json:"rules"`
}

// SyncPolicyReq is the POST /api/firewall/policies/{policy_id}/sync body.
type SyncPolicyReq struct {
	Target string `json:"target,omitempty"`
	DryRun bool   `json:"dryRun,omitempty"`
}

// PolicyListResp wraps the policy collection.
type PolicyListResp struct {
	Policies []*policy.Policy `json:"policies"`
	Total    int              `json:"total"`
}

// CreateTenantReq is the POST /api/firewall/tenants body.
type CreateTenantReq struct {
	Name string `json:"name"`
}

// TenantResp is a tenant without its key hash.
type TenantResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode,omitempty"`
	FailOpen     bool      `json:"fail_open"`
	Admin        bool      `json:"admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateTenantResp additionally carries the plaintext key, returned only here.
type CreateTenantResp struct {
	TenantResp
	APIKey string `json:"api_key"`
}

// UpdateTenantReq is the PATCH body; nil fields are left unchanged.
type UpdateTenantReq struct {
	Name     *string `json:"name"`
	Mode     *string `json:"mode"`
	FailOpen *bool   `json:"fail_open"`
	Admin    *bool   `json:"admin"`
}

// RotateKeyResp is the rotate-key response with the new plaintext key.
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// EntitlementReq sets a tenant's explanation read-back level.
type EntitlementReq struct {
	ExplainabilityLevel string `json:"explainability_level"`
}

// RouteBindingReq is the PUT /api/firewall/routes body.
type RouteBindingReq struct {
	PathPrefix string `json:"path_prefix"`
	PolicyID   string `json:"policy_id"`
	Enabled    *bool  `json:"enabled"`
}

// --- JSON helpers ---

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// readJSON decodes a JSON request body into the given pointer.
func readJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

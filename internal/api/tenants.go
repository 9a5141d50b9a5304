package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/guardline-ai/bastion/internal/policy"
	"github.com/guardline-ai/bastion/internal/store"
)

// handleCreateTenant implements POST /api/firewall/tenants. The response
// carries the plaintext API key exactly once; only the bcrypt hash survives.
func (d *Dependencies) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Name == "" || len(req.Name) > 255 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name must be 1-255 characters"})
		return
	}

	tenant, plainKey, err := d.Store.CreateTenant(r.Context(), req.Name)
	if err != nil {
		d.Logger.Error("failed to create tenant", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create tenant"})
		return
	}

	resp := CreateTenantResp{TenantResp: tenantToResp(tenant), APIKey: plainKey}
	writeJSON(w, http.StatusCreated, resp)
}

func (d *Dependencies) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := d.Store.ListTenants(r.Context())
	if err != nil {
		d.Logger.Error("failed to list tenants", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list tenants"})
		return
	}

	resp := make([]TenantResp, 0, len(tenants))
	for _, t := range tenants {
		resp = append(resp, tenantToResp(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := d.Store.GetTenant(r.Context(), r.PathValue("tenant_id"))
	if err != nil {
		d.Logger.Error("failed to get tenant", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get tenant"})
		return
	}
	if tenant == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tenant not found"})
		return
	}
	writeJSON(w, http.StatusOK, tenantToResp(tenant))
}

func (d *Dependencies) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	var req UpdateTenantReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	if req.Name != nil && (*req.Name == "" || len(*req.Name) > 255) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name must be 1-255 characters"})
		return
	}
	// An empty mode clears the override so the policy's own mode applies.
	if req.Mode != nil && *req.Mode != "" && !policy.Mode(*req.Mode).Valid() {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "mode must be 'off', 'shadow' or 'enforce'"})
		return
	}

	tenant, err := d.Store.UpdateTenant(r.Context(), r.PathValue("tenant_id"), store.UpdateTenantParams{
		Name:     req.Name,
		Mode:     req.Mode,
		FailOpen: req.FailOpen,
		Admin:    req.Admin,
	})
	if err != nil {
		d.Logger.Error("failed to update tenant", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update tenant"})
		return
	}
	if tenant == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tenant not found"})
		return
	}
	writeJSON(w, http.StatusOK, tenantToResp(tenant))
}

// handleRotateTenantKey implements POST /api/firewall/tenants/{tenant_id}/rotate-key.
// The old key stops verifying immediately; cached entries age out within the
// auth cache TTL.
func (d *Dependencies) handleRotateTenantKey(w http.ResponseWriter, r *http.Request) {
	tenant, plainKey, err := d.Store.RotateAPIKey(r.Context(), r.PathValue("tenant_id"))
	if err != nil {
		d.Logger.Error("failed to rotate key", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to rotate API key"})
		return
	}
	writeJSON(w, http.StatusOK, RotateKeyResp{
		APIKey:       plainKey,
		APIKeyPrefix: tenant.APIKeyPrefix,
	})
}

// handleSetEntitlement implements PUT /api/firewall/tenants/{tenant_id}/entitlement,
// switching the tenant's explanation read-back between basic and advanced.
func (d *Dependencies) handleSetEntitlement(w http.ResponseWriter, r *http.Request) {
	var req EntitlementReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.ExplainabilityLevel != "basic" && req.ExplainabilityLevel != "advanced" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "explainability_level must be 'basic' or 'advanced'"})
		return
	}

	id := r.PathValue("tenant_id")
	tenant, err := d.Store.GetTenant(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to get tenant", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to set entitlement"})
		return
	}
	if tenant == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tenant not found"})
		return
	}

	if err := d.Store.SetEntitlement(r.Context(), id, req.ExplainabilityLevel); err != nil {
		d.Logger.Error("failed to set entitlement", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to set entitlement"})
		return
	}
	writeJSON(w, http.StatusOK, EntitlementReq{ExplainabilityLevel: req.ExplainabilityLevel})
}

func tenantToResp(t *store.Tenant) TenantResp {
	return TenantResp{
		ID:           t.ID,
		Name:         t.Name,
		APIKeyPrefix: t.APIKeyPrefix,
		Mode:         t.Mode,
		FailOpen:     t.FailOpen,
		Admin:        t.Admin,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

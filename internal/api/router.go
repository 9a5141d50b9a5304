package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/guardline-ai/bastion/internal/audit"
	"github.com/guardline-ai/bastion/internal/auth"
	"github.com/guardline-ai/bastion/internal/edge"
	"github.com/guardline-ai/bastion/internal/gateway"
	"github.com/guardline-ai/bastion/internal/store"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store   *store.Store
	Auth    auth.Authenticator
	Reader  audit.Reader         // nil if the audit backend has no read-back
	Edge    *edge.Client         // nil if no edge node configured
	Source  *gateway.StoreSource // nil when policies come from a static file
	Gateway *gateway.Gateway
	Logger  *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Gateway proxy (auth required via Bearer bsk_ token)
	mux.HandleFunc("POST /v1/gateway/{path...}", deps.authMiddleware(deps.Gateway.Handle))

	// Policy CRUD (no auth — dashboard auth added later)
	mux.HandleFunc("POST /api/firewall/policies", deps.requireStore(deps.handleCreatePolicy))
	mux.HandleFunc("GET /api/firewall/policies", deps.requireStore(deps.handleListPolicies))
	mux.HandleFunc("GET /api/firewall/policies/{policy_id}", deps.requireStore(deps.handleGetPolicy))
	mux.HandleFunc("PATCH /api/firewall/policies/{policy_id}", deps.requireStore(deps.handleUpdatePolicy))
	mux.HandleFunc("DELETE /api/firewall/policies/{policy_id}", deps.requireStore(deps.handleDeletePolicy))
	mux.HandleFunc("POST /api/firewall/policies/{policy_id}/sync", deps.requireStore(deps.handleSyncPolicy))

	// Tenant provisioning and key rotation
	mux.HandleFunc("POST /api/firewall/tenants", deps.requireStore(deps.handleCreateTenant))
	mux.HandleFunc("GET /api/firewall/tenants", deps.requireStore(deps.handleListTenants))
	mux.HandleFunc("GET /api/firewall/tenants/{tenant_id}", deps.requireStore(deps.handleGetTenant))
	mux.HandleFunc("PATCH /api/firewall/tenants/{tenant_id}", deps.requireStore(deps.handleUpdateTenant))
	mux.HandleFunc("POST /api/firewall/tenants/{tenant_id}/rotate-key", deps.requireStore(deps.handleRotateTenantKey))
	mux.HandleFunc("PUT /api/firewall/tenants/{tenant_id}/entitlement", deps.requireStore(deps.handleSetEntitlement))

	// Route bindings gating which gateway paths the firewall applies to
	mux.HandleFunc("PUT /api/firewall/routes", deps.requireStore(deps.handlePutRouteBinding))
	mux.HandleFunc("GET /api/firewall/routes", deps.requireStore(deps.handleListRouteBindings))
	mux.HandleFunc("DELETE /api/firewall/routes", deps.requireStore(deps.handleDeleteRouteBinding))

	// Explainability (auth required — redaction follows the tenant entitlement)
	mux.HandleFunc("GET /api/firewall/explanations", deps.authMiddleware(deps.handleGetExplanations))

	// Live decision stream (admin only)
	mux.HandleFunc("GET /api/firewall/stream", deps.authMiddleware(deps.adminOnly(deps.handleStream)))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}

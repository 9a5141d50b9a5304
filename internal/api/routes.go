package api

import (
	"database/sql"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// handlePutRouteBinding implements PUT /api/firewall/routes, binding a path
// prefix to a policy. Re-putting an existing prefix replaces its binding.
func (d *Dependencies) handlePutRouteBinding(w http.ResponseWriter, r *http.Request) {
	var req RouteBindingReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if !strings.HasPrefix(req.PathPrefix, "/") {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "path_prefix must start with '/'"})
		return
	}
	if req.PolicyID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "policy_id is required"})
		return
	}

	p, err := d.Store.GetPolicy(r.Context(), req.PolicyID)
	if err != nil {
		d.Logger.Error("failed to get policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to bind route"})
		return
	}
	if p == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found"})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	binding, err := d.Store.UpsertRouteBinding(r.Context(), req.PathPrefix, req.PolicyID, enabled)
	if err != nil {
		d.Logger.Error("failed to upsert route binding", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to bind route"})
		return
	}

	d.refreshSource(r)
	writeJSON(w, http.StatusOK, binding)
}

func (d *Dependencies) handleListRouteBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := d.Store.ListRouteBindings(r.Context())
	if err != nil {
		d.Logger.Error("failed to list route bindings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list route bindings"})
		return
	}
	writeJSON(w, http.StatusOK, bindings)
}

// handleDeleteRouteBinding implements DELETE /api/firewall/routes?path_prefix=.
// The prefix is a query parameter because it contains slashes.
func (d *Dependencies) handleDeleteRouteBinding(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("path_prefix")
	if prefix == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "path_prefix query parameter is required"})
		return
	}

	err := d.Store.DeleteRouteBinding(r.Context(), prefix)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Route binding not found"})
		return
	}
	if err != nil {
		d.Logger.Error("failed to delete route binding", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete route binding"})
		return
	}

	d.refreshSource(r)
	w.WriteHeader(http.StatusNoContent)
}

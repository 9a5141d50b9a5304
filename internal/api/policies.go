package api

import (
	"database/sql"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/guardline-ai/bastion/internal/policy"
	"github.com/guardline-ai/bastion/internal/store"
)

// handleCreatePolicy implements POST /api/firewall/policies.
// An invalid policy is rejected with 422 listing every offending field.
func (d *Dependencies) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	p := &policy.Policy{
		ID:    req.ID,
		Name:  req.Name,
		Mode:  policy.Mode(req.Mode),
		Rules: req.Rules,
	}
	if !d.rejectInvalid(w, p) {
		return
	}

	created, err := d.Store.CreatePolicy(r.Context(), p)
	if err != nil {
		d.Logger.Error("failed to create policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create policy"})
		return
	}

	d.refreshSource(r)
	writeJSON(w, http.StatusCreated, created)
}

func (d *Dependencies) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := d.Store.ListPolicies(r.Context())
	if err != nil {
		d.Logger.Error("failed to list policies", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list policies"})
		return
	}
	writeJSON(w, http.StatusOK, PolicyListResp{Policies: policies, Total: len(policies)})
}

func (d *Dependencies) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := d.Store.GetPolicy(r.Context(), r.PathValue("policy_id"))
	if err != nil {
		d.Logger.Error("failed to get policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get policy"})
		return
	}
	if p == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleUpdatePolicy implements PATCH /api/firewall/policies/{policy_id}.
// Every successful update bumps the version, even a no-op one; the merged
// result is validated before it is written.
func (d *Dependencies) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("policy_id")

	var req UpdatePolicyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	current, err := d.Store.GetPolicy(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to get policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update policy"})
		return
	}
	if current == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found"})
		return
	}

	merged := *current
	if req.Name != nil {
		merged.Name = *req.Name
	}
	if req.Mode != nil {
		merged.Mode = policy.Mode(*req.Mode)
	}
	if req.Rules != nil {
		merged.Rules = req.Rules
	}
	if !d.rejectInvalid(w, &merged) {
		return
	}

	updated, err := d.Store.UpdatePolicy(r.Context(), id, store.UpdatePolicyParams{
		Name:  req.Name,
		Mode:  req.Mode,
		Rules: req.Rules,
	})
	if err != nil {
		d.Logger.Error("failed to update policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update policy"})
		return
	}
	if updated == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found"})
		return
	}

	d.refreshSource(r)
	writeJSON(w, http.StatusOK, updated)
}

func (d *Dependencies) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	err := d.Store.DeletePolicy(r.Context(), r.PathValue("policy_id"))
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found"})
		return
	}
	if err != nil {
		d.Logger.Error("failed to delete policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete policy"})
		return
	}

	d.refreshSource(r)
	w.WriteHeader(http.StatusNoContent)
}

// handleSyncPolicy implements POST /api/firewall/policies/{policy_id}/sync,
// pushing the stored policy to the configured edge node.
func (d *Dependencies) handleSyncPolicy(w http.ResponseWriter, r *http.Request) {
	if d.Edge == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "No edge node configured"})
		return
	}

	// The body is optional; an empty POST syncs with defaults.
	var req SyncPolicyReq
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	p, err := d.Store.GetPolicy(r.Context(), r.PathValue("policy_id"))
	if err != nil {
		d.Logger.Error("failed to get policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to sync policy"})
		return
	}
	if p == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found"})
		return
	}

	result, err := d.Edge.Sync(r.Context(), req.Target, p, req.DryRun)
	if err != nil {
		d.Logger.Error("edge sync failed", zap.Error(err), zap.String("policy_id", p.ID))
		writeJSON(w, http.StatusBadGateway, ErrorResp{Detail: "Edge sync failed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// rejectInvalid validates p and answers 422 with every field error on
// failure. Returns true when the policy is valid.
func (d *Dependencies) rejectInvalid(w http.ResponseWriter, p *policy.Policy) bool {
	if err := policy.Validate(p); err != nil {
		var ve *policy.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusUnprocessableEntity, ve)
		} else {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		}
		return false
	}
	return true
}

// refreshSource reloads the gateway's route binding cache after a policy
// mutation so the change is visible without waiting for the next tick.
func (d *Dependencies) refreshSource(r *http.Request) {
	if d.Source == nil {
		return
	}
	if err := d.Source.Refresh(r.Context()); err != nil {
		d.Logger.Warn("route binding refresh failed", zap.Error(err))
	}
}

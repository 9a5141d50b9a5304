package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/guardline-ai/bastion/internal/audit"
	"github.com/guardline-ai/bastion/internal/auth"
)

// ExplanationResp wraps the decision trail for one request.
type ExplanationResp struct {
	RequestID string         `json:"request_id"`
	Records   []audit.Record `json:"records"`
	Level     string         `json:"level"`
}

// handleGetExplanations implements GET /api/firewall/explanations?request_id=.
// Free-text fields are masked unless the tenant's entitlement grants advanced
// explainability; decision fields are always returned in full.
func (d *Dependencies) handleGetExplanations(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Audit read-back not configured"})
		return
	}

	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "request_id query parameter is required"})
		return
	}

	records, err := d.Reader.Get(r.Context(), requestID)
	if err != nil {
		d.Logger.Error("failed to read explanations", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to read explanations"})
		return
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "No records for request"})
		return
	}

	level := audit.LevelBasic
	if tenant := auth.TenantFromContext(r.Context()); tenant != nil &&
		tenant.ExplainabilityLevel == string(audit.LevelAdvanced) {
		level = audit.LevelAdvanced
	}

	out := make([]audit.Record, len(records))
	for i, rec := range records {
		out[i] = rec.Redacted(level)
	}

	writeJSON(w, http.StatusOK, ExplanationResp{
		RequestID: requestID,
		Records:   out,
		Level:     string(level),
	})
}

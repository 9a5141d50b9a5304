package edge

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/guardline-ai/bastion/internal/policy"
)

// Handler serves the edge node HTTP surface.
type Handler struct {
	node   *Node
	logger *zap.Logger
}

// NewHandler creates an edge HTTP handler.
func NewHandler(node *Node, logger *zap.Logger) *Handler {
	return &Handler{node: node, logger: logger}
}

// NewRouter builds the edge node mux.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /edge/policy/sync", h.handleSync)
	mux.HandleFunc("GET /edge/policy/{id}", h.handleFetch)
	mux.HandleFunc("POST /edge/enforce", h.handleEnforce)
	mux.HandleFunc("GET /edge/health", h.handleHealth)
	return mux
}

type errorResp struct {
	Detail string `json:"detail"`
}

// SyncRequest is the POST /edge/policy/sync body.
type SyncRequest struct {
	Target string         `json:"target,omitempty"`
	DryRun bool           `json:"dryRun,omitempty"`
	Policy *policy.Policy `json:"policy"`
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Detail: "Invalid JSON body"})
		return
	}

	// Full schema validation runs on dry-run and real syncs alike.
	if req.Policy != nil && req.Policy.ID != "" {
		if err := policy.Validate(req.Policy); err != nil {
			var ve *policy.ValidationError
			if errors.As(err, &ve) {
				writeJSON(w, http.StatusUnprocessableEntity, ve)
				return
			}
			writeJSON(w, http.StatusBadRequest, errorResp{Detail: err.Error()})
			return
		}
	}

	result, err := h.node.Sync(r.Context(), req.Target, req.Policy, req.DryRun)
	if err != nil {
		if errors.Is(err, ErrInvalidPolicy) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResp{Detail: err.Error()})
			return
		}
		h.logger.Error("policy sync failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp{Detail: "sync failed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	p, err := h.node.Fetch(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp{Detail: "policy not found"})
			return
		}
		h.logger.Error("policy fetch failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp{Detail: "fetch failed"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// EnforceRequest is the POST /edge/enforce body.
type EnforceRequest struct {
	Input    string `json:"input"`
	PolicyID string `json:"policyId,omitempty"`
}

func (h *Handler) handleEnforce(w http.ResponseWriter, r *http.Request) {
	var req EnforceRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Input == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Detail: "input is required"})
		return
	}

	result, err := h.node.Enforce(r.Context(), req.Input, req.PolicyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp{Detail: "no policy synced"})
			return
		}
		h.logger.Error("edge enforce failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp{Detail: "enforce failed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := h.node.Fetch(r.Context(), LatestKey); err == nil {
		resp["policy"] = "loaded"
	} else {
		resp["policy"] = "none"
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

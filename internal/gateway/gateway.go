// Package gateway proxies AI backend traffic through pre- and post-flight
// firewall checks. The request path is: extract text, score it, evaluate
// policy, persist the decision, then act on it — a decision is never acted
// on before it is durably recorded.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guardline-ai/bastion/internal/audit"
	"github.com/guardline-ai/bastion/internal/auth"
	"github.com/guardline-ai/bastion/internal/detector"
	"github.com/guardline-ai/bastion/internal/policy"
)

// Config holds gateway behavior knobs.
type Config struct {
	BackendURL     string        // base URL the proxied path is appended to
	BackendTimeout time.Duration // per-attempt timeout
	Retries        int           // extra attempts on 5xx or network error
	RetryDelay     time.Duration
	AuditFailOpen  bool  // serve traffic when the audit write fails
	MaxBodyBytes   int64 // request body cap
	Enabled        bool  // false = pure proxy, no checks
}

// Gateway is the firewall proxy handler.
type Gateway struct {
	cfg      Config
	det      detector.Detector
	engine   *policy.Engine
	source   PolicySource
	recorder audit.Recorder
	client   *http.Client
	logger   *zap.Logger
}

// New creates a gateway.
func New(cfg Config, det detector.Detector, engine *policy.Engine, source PolicySource, recorder audit.Recorder, logger *zap.Logger) *Gateway {
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	return &Gateway{
		cfg:      cfg,
		det:      det,
		engine:   engine,
		source:   source,
		recorder: recorder,
		client:   &http.Client{Timeout: cfg.BackendTimeout},
		logger:   logger,
	}
}

// blockedResp is the body served when the firewall blocks a request.
type blockedResp struct {
	Error      string   `json:"error"`
	Threats    []string `json:"threats,omitempty"`
	ReasonCode string   `json:"reasonCode"`
	RequestID  string   `json:"requestId"`
}

// Handle implements POST /v1/gateway/{path...}.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()
	w.Header().Set("X-Request-Id", requestID)

	path := r.PathValue("path")
	tenant := auth.TenantFromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, g.cfg.MaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, blockedResp{
			Error: "failed to read request body", ReasonCode: "BAD_REQUEST", RequestID: requestID,
		})
		return
	}
	_ = r.Body.Close()

	if !g.cfg.Enabled {
		g.forwardAndRespond(w, r, requestID, path, body, start, tenant, nil)
		return
	}

	pol := g.policyFor(r.Context(), path, tenant)

	ext := ExtractText(body)
	if ext == nil {
		// Nothing checkable in the payload; proxy it unchanged.
		g.forwardAndRespond(w, r, requestID, path, body, start, tenant, pol)
		return
	}

	verdict := g.analyze(r.Context(), ext.Text, path, tenant)
	decision := g.engine.Evaluate(pol, policy.Input{
		Content: ext.Text,
		Verdict: verdict,
		Stage:   policy.StagePre,
	})

	rec := g.buildRecord(requestID, "pre", decision, verdict, tenant, path, start)
	rec.Meta["prompt"] = ext.Text
	rec.Meta["field"] = ext.Field
	if !g.writeRecord(w, r, rec, requestID) {
		return
	}

	if decision.Action == policy.ActionBlock {
		writeJSON(w, http.StatusBadRequest, blockedResp{
			Error:      "request blocked by firewall policy",
			Threats:    threatList(verdict),
			ReasonCode: decision.ReasonCode,
			RequestID:  requestID,
		})
		return
	}

	if decision.Action == policy.ActionSanitize {
		sanitized, err := ext.Replace(policy.ApplySanitizer(decision.Sanitizer, ext.Text))
		if err != nil {
			g.logger.Error("sanitizer substitution failed", zap.Error(err), zap.String("request_id", requestID))
			writeJSON(w, http.StatusBadRequest, blockedResp{
				Error:      "request blocked by firewall policy",
				Threats:    threatList(verdict),
				ReasonCode: decision.ReasonCode,
				RequestID:  requestID,
			})
			return
		}
		body = sanitized
	}

	g.forwardAndRespond(w, r, requestID, path, body, start, tenant, pol)
}

// policyFor resolves the path's policy and applies a per-tenant mode override.
// The policy is copied before the override so the shared snapshot is never
// mutated.
func (g *Gateway) policyFor(ctx context.Context, path string, tenant *auth.TenantContext) *policy.Policy {
	pol := g.source.PolicyFor(ctx, path)
	if pol == nil || tenant == nil || tenant.Mode == "" {
		return pol
	}
	mode := policy.Mode(tenant.Mode)
	if !mode.Valid() || mode == pol.Mode {
		return pol
	}
	override := *pol
	override.Mode = mode
	return &override
}

// analyze scores content, downgrading any detector failure to a
// zero-confidence verdict so scoring never hard-fails a request on its own.
func (g *Gateway) analyze(ctx context.Context, content, path string, tenant *auth.TenantContext) *detector.Verdict {
	reqCtx := detector.Context{Source: "gateway", Model: path}
	if tenant != nil {
		reqCtx.UserID = tenant.TenantID
	}
	verdict, err := g.det.Analyze(ctx, content, reqCtx)
	if err != nil || verdict == nil {
		if err != nil {
			g.logger.Warn("detector failed, using zero-confidence verdict", zap.Error(err))
		}
		return detector.ZeroConfidence(content, "detector unavailable")
	}
	return verdict
}

// forwardAndRespond proxies the request to the backend, runs the post-flight
// check on the response, and serves the result.
func (g *Gateway) forwardAndRespond(w http.ResponseWriter, r *http.Request, requestID, path string, body []byte, start time.Time, tenant *auth.TenantContext, pol *policy.Policy) {
	status, respBody, contentType, err := g.forward(r.Context(), r, path, body)
	if err != nil {
		rec := g.newRecord(requestID, "post", audit.PhaseError, tenant, path, start)
		rec.ReasonCode = "BACKEND_ERROR"
		rec.Meta["error"] = err.Error()
		if !g.writeRecord(w, r, rec, requestID) {
			return
		}
		writeJSON(w, http.StatusBadGateway, blockedResp{
			Error: "backend unavailable", ReasonCode: "BACKEND_ERROR", RequestID: requestID,
		})
		return
	}

	if !g.cfg.Enabled || pol == nil {
		serveRaw(w, status, contentType, respBody)
		return
	}

	ext := ExtractAnswer(respBody)
	if ext == nil {
		serveRaw(w, status, contentType, respBody)
		return
	}

	verdict := g.analyze(r.Context(), ext.Text, path, tenant)
	decision := g.engine.Evaluate(pol, policy.Input{
		Content: ext.Text,
		Verdict: verdict,
		Stage:   policy.StagePost,
	})

	rec := g.buildRecord(requestID, "post", decision, verdict, tenant, path, start)
	rec.Meta["output"] = ext.Text
	rec.Meta["field"] = ext.Field
	if !g.writeRecord(w, r, rec, requestID) {
		return
	}

	if decision.Action == policy.ActionBlock {
		// The backend response is discarded; the client never sees it.
		writeJSON(w, http.StatusBadRequest, blockedResp{
			Error:      "response blocked by firewall policy",
			Threats:    threatList(verdict),
			ReasonCode: decision.ReasonCode,
			RequestID:  requestID,
		})
		return
	}

	if decision.Action == policy.ActionSanitize {
		sanitized, err := ext.Replace(policy.ApplySanitizer(decision.Sanitizer, ext.Text))
		if err != nil {
			g.logger.Error("sanitizer substitution failed", zap.Error(err), zap.String("request_id", requestID))
			writeJSON(w, http.StatusBadRequest, blockedResp{
				Error:      "response blocked by firewall policy",
				ReasonCode: decision.ReasonCode,
				RequestID:  requestID,
			})
			return
		}
		respBody = sanitized
	}

	serveRaw(w, status, contentType, respBody)
}

// forward sends the proxied request to the backend, retrying on network
// errors and 5xx responses. Retries stop as soon as the client context is
// cancelled.
func (g *Gateway) forward(ctx context.Context, r *http.Request, path string, body []byte) (int, []byte, string, error) {
	url := strings.TrimSuffix(g.cfg.BackendURL, "/") + "/" + strings.TrimPrefix(path, "/")

	var lastErr error
	for attempt := 0; attempt <= g.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, "", ctx.Err()
			case <-time.After(g.cfg.RetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, r.Method, url, bytes.NewReader(body))
		if err != nil {
			return 0, nil, "", fmt.Errorf("forward: %w", err)
		}
		req.Header.Set("Content-Type", r.Header.Get("Content-Type"))
		if v := r.Header.Get("X-Backend-Authorization"); v != "" {
			req.Header.Set("Authorization", v)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("backend returned %d", resp.StatusCode)
			continue
		}
		return resp.StatusCode, respBody, resp.Header.Get("Content-Type"), nil
	}
	return 0, nil, "", fmt.Errorf("forward: %w", lastErr)
}

// newRecord builds the invariant parts of an audit record.
func (g *Gateway) newRecord(requestID, stage string, phase audit.Phase, tenant *auth.TenantContext, path string, start time.Time) *audit.Record {
	rec := &audit.Record{
		RequestID: requestID,
		Stage:     stage,
		Phase:     phase,
		Action:    string(policy.ActionAllow),
		Backend:   path,
		LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
		Timestamp: time.Now().UTC(),
		Meta:      map[string]string{},
	}
	if tenant != nil {
		rec.UserID = tenant.TenantID
	}
	return rec
}

// buildRecord fills a record from a decision + verdict and picks the phase:
// shadow when shadow mode would have intervened, shadow_error when shadow
// evaluation hit rule errors, otherwise the plain stage phase.
func (g *Gateway) buildRecord(requestID, stage string, d *policy.Decision, v *detector.Verdict, tenant *auth.TenantContext, path string, start time.Time) *audit.Record {
	phase := audit.Phase(stage)
	if d.Mode == policy.ModeShadow {
		switch {
		case len(d.RuleErrors) > 0:
			phase = audit.PhaseShadowError
		case d.ShadowAction != "" && d.ShadowAction != policy.ActionAllow:
			phase = audit.PhaseShadow
		}
	}

	rec := g.newRecord(requestID, stage, phase, tenant, path, start)
	rec.Action = string(d.Action)
	rec.ShadowAction = string(d.ShadowAction)
	rec.ReasonCode = d.ReasonCode
	rec.MatchedRuleIDs = d.MatchedRuleIDs
	rec.RuleErrors = d.RuleErrors
	rec.PolicyID = d.PolicyID
	rec.PolicyVersion = d.PolicyVersion
	rec.Mode = string(d.Mode)
	if v != nil {
		rec.Threats = threatList(v)
		rec.RiskScore = v.RiskScore
		rec.Confidence = v.Confidence
	}
	return rec
}

// writeRecord persists rec before the response is served. Returns false when
// the request was already answered (audit outage with fail-closed).
// Audit writes run on a detached context so a client disconnect cannot
// abandon the record. Fail-closed is the default; serving unaudited traffic
// requires either the deployment flag or the tenant's fail_open grant.
func (g *Gateway) writeRecord(w http.ResponseWriter, r *http.Request, rec *audit.Record, requestID string) bool {
	failOpen := g.cfg.AuditFailOpen
	if tenant := auth.TenantFromContext(r.Context()); tenant != nil && tenant.FailOpen {
		failOpen = true
	}

	ctx := context.WithoutCancel(r.Context())
	if err := g.recorder.Record(ctx, rec); err != nil {
		if failOpen {
			g.logger.Warn("audit write failed, continuing (fail-open)",
				zap.Error(err), zap.String("request_id", requestID))
			return true
		}
		g.logger.Error("audit write failed, rejecting request (fail-closed)",
			zap.Error(err), zap.String("request_id", requestID))
		writeJSON(w, http.StatusServiceUnavailable, blockedResp{
			Error: "audit store unavailable", ReasonCode: "AUDIT_UNAVAILABLE", RequestID: requestID,
		})
		return false
	}
	return true
}

// threatList collapses verdict signals into unique threat names.
func threatList(v *detector.Verdict) []string {
	if v == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, sig := range v.Signals {
		if !sig.Triggered || sig.Threat == detector.ThreatNone {
			continue
		}
		if !seen[string(sig.Threat)] {
			seen[string(sig.Threat)] = true
			out = append(out, string(sig.Threat))
		}
	}
	if len(out) == 0 && v.ThreatType != detector.ThreatNone {
		out = append(out, string(v.ThreatType))
	}
	return out
}

func serveRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

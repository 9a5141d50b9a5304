package audit

import (
	"time"
)

// Phase tags a record for stream filtering. pre/post are normal decisions,
// shadow marks a shadow-mode would-have-been, error marks backend or
// pipeline failures that were not firewall blocks.
type Phase string

const (
	PhasePre         Phase = "pre"
	PhasePost        Phase = "post"
	PhaseShadow      Phase = "shadow"
	PhaseShadowError Phase = "shadow_error"
	PhaseError       Phase = "error"
)

// Level is the read-back redaction level, decided by an external entitlement
// lookup, never by the recorder itself.
type Level string

const (
	LevelBasic    Level = "basic"
	LevelAdvanced Level = "advanced"
)

// RedactionMarker replaces masked free-text fields on basic read-back.
const RedactionMarker = "[REDACTED]"

// maskedMetaKeys are the free-text meta fields hidden from basic reads.
var maskedMetaKeys = []string{"prompt", "input", "output", "raw"}

// Record wraps one decision plus its redactable context. Records are
// append-only and keyed by request ID + stage; corrections are new records
// referencing the same request ID, never updates in place.
type Record struct {
	RequestID      string            `json:"request_id"`
	Stage          string            `json:"stage"` // "pre" or "post"
	Phase          Phase             `json:"phase"`
	Action         string            `json:"action"`
	ShadowAction   string            `json:"shadow_action,omitempty"`
	ReasonCode     string            `json:"reason_code"`
	MatchedRuleIDs []string          `json:"matched_rule_ids,omitempty"`
	RuleErrors     map[string]string `json:"rule_errors,omitempty"`
	PolicyID       string            `json:"policy_id,omitempty"`
	PolicyVersion  string            `json:"policy_version,omitempty"`
	Mode           string            `json:"mode,omitempty"`
	Threats        []string          `json:"threats,omitempty"`
	RiskScore      float64           `json:"risk_score"`
	Confidence     float64           `json:"confidence"`
	UserID         string            `json:"user_id,omitempty"`
	Backend        string            `json:"backend,omitempty"`
	LatencyMs      float64           `json:"latency_ms"`
	Timestamp      time.Time         `json:"timestamp"`
	Meta           map[string]string `json:"meta,omitempty"`
}

// Redacted returns a copy of r with redaction applied for the given level.
// Advanced returns every field unmodified; basic replaces the designated
// free-text meta fields with the redaction marker and leaves decision fields
// untouched.
func (r Record) Redacted(level Level) Record {
	if level == LevelAdvanced {
		return r
	}
	if len(r.Meta) == 0 {
		return r
	}
	clone := r
	clone.Meta = make(map[string]string, len(r.Meta))
	for k, v := range r.Meta {
		clone.Meta[k] = v
	}
	for _, k := range maskedMetaKeys {
		if _, ok := clone.Meta[k]; ok {
			clone.Meta[k] = RedactionMarker
		}
	}
	return clone
}

package policy

import (
	"time"
)

// Mode is the tri-state enforcement mode of a policy.
// Exactly one mode is active per policy; mode changes are published through
// Snapshot so evaluators never observe a torn update.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeShadow  Mode = "shadow"
	ModeEnforce Mode = "enforce"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeOff || m == ModeShadow || m == ModeEnforce
}

// Action is what a matched guardrail wants done with the traffic.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionBlock     Action = "block"
	ActionSanitize  Action = "sanitize"
	ActionWarn      Action = "warn"
	ActionTransform Action = "transform"
)

// severity orders actions for resolution across matched rules.
// block dominates sanitize, which dominates warn; allow is the default.
// transform is treated as a sanitize-strength action.
func severity(a Action) int {
	switch a {
	case ActionBlock:
		return 3
	case ActionSanitize, ActionTransform:
		return 2
	case ActionWarn:
		return 1
	default:
		return 0
	}
}

// RuleType scopes a guardrail to a pipeline stage.
type RuleType string

const (
	RuleInputFilter      RuleType = "input_filter"
	RuleOutputFilter     RuleType = "output_filter"
	RuleContextCheck     RuleType = "context_check"
	RuleFormatValidation RuleType = "format_validation"
)

// Stage identifies which half of the request lifecycle is being checked.
type Stage string

const (
	StagePre  Stage = "pre"
	StagePost Stage = "post"
)

// appliesTo reports whether a rule type participates at the given stage.
// input_filter only runs pre, output_filter only post; context checks and
// format validation run at both stages.
func (t RuleType) appliesTo(stage Stage) bool {
	switch t {
	case RuleInputFilter:
		return stage == StagePre
	case RuleOutputFilter:
		return stage == StagePost
	default:
		return true
	}
}

// Guardrail is a single named rule within a policy.
type Guardrail struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Type      RuleType          `json:"type" yaml:"type"`
	Condition string            `json:"condition" yaml:"condition"`
	Action    Action            `json:"action" yaml:"action"`
	Priority  int               `json:"priority" yaml:"priority"`
	Enabled   *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsEnabled returns whether the rule participates in evaluation.
// A nil Enabled field defaults to true.
func (g Guardrail) IsEnabled() bool {
	if g.Enabled == nil {
		return true
	}
	return *g.Enabled
}

// Policy is a named, versioned, ordered rule set plus its enforcement mode.
type Policy struct {
	ID        string      `json:"id" yaml:"id"`
	Name      string      `json:"name" yaml:"name"`
	Version   string      `json:"version" yaml:"version"`
	Mode      Mode        `json:"mode" yaml:"mode"`
	Rules     []Guardrail `json:"rules" yaml:"rules"`
	UpdatedAt time.Time   `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Reason codes attached to decisions.
const (
	ReasonModeOff       = "MODE_OFF"
	ReasonNoPolicy      = "NO_POLICY"
	ReasonNoRuleMatch   = "NO_RULE_MATCH"
	ReasonRuleMatch     = "POLICY_RULE_MATCH"
	ReasonRuleEvalError = "RULE_EVAL_ERROR"
)

// Decision is the resolved outcome for one pipeline stage of one request.
// Action is what the gateway must do; in shadow mode it is forced to allow
// and ShadowAction carries what enforce mode would have done.
type Decision struct {
	Action         Action            `json:"action"`
	ShadowAction   Action            `json:"shadow_action,omitempty"`
	ReasonCode     string            `json:"reason_code"`
	MatchedRuleIDs []string          `json:"matched_rule_ids,omitempty"`
	RuleErrors     map[string]string `json:"rule_errors,omitempty"`
	Sanitizer      string            `json:"sanitizer,omitempty"`
	Mode           Mode              `json:"mode"`
	PolicyID       string            `json:"policy_id,omitempty"`
	PolicyVersion  string            `json:"policy_version,omitempty"`
}

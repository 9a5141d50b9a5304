package policy

import (
	"sort"

	"github.com/guardline-ai/bastion/internal/detector"
	"go.uber.org/zap"
)

// Engine evaluates detector verdicts (or raw content) against a policy and
// computes exactly one decision per call.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a policy engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Input is one evaluation request.
type Input struct {
	Content string
	Verdict *detector.Verdict // nil for detector-less rules only
	Stage   Stage
}

// Evaluate computes the decision for in against p.
//
// Rules are filtered to enabled ones applicable at the stage, sorted by
// ascending priority with ties broken by rule ID so evaluation order is
// deterministic and reproducible for audits. Every enabled rule is evaluated;
// the resolved action is the most severe among all matches, not the first
// match, so a high-priority sanitize rule can never suppress a lower-priority
// block rule. A malformed condition isolates that single rule with
// RULE_EVAL_ERROR and evaluation continues.
//
// A nil policy is treated as mode=off (documented default for policy
// not found / disabled).
func (e *Engine) Evaluate(p *Policy, in Input) *Decision {
	if p == nil {
		return &Decision{
			Action:     ActionAllow,
			ReasonCode: ReasonNoPolicy,
			Mode:       ModeOff,
		}
	}

	d := &Decision{
		Action:        ActionAllow,
		ReasonCode:    ReasonNoRuleMatch,
		Mode:          p.Mode,
		PolicyID:      p.ID,
		PolicyVersion: p.Version,
	}

	if p.Mode == ModeOff {
		d.ReasonCode = ReasonModeOff
		return d
	}

	rules := make([]Guardrail, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r.IsEnabled() && r.Type.appliesTo(in.Stage) {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})

	resolved := ActionAllow
	for _, r := range rules {
		matched, err := evalCondition(r.Condition, in.Content, in.Verdict)
		if err != nil {
			if d.RuleErrors == nil {
				d.RuleErrors = make(map[string]string)
			}
			d.RuleErrors[r.ID] = err.Error()
			e.logger.Warn("rule condition evaluation failed, skipping rule",
				zap.String("policy_id", p.ID),
				zap.String("rule_id", r.ID),
				zap.Error(err),
			)
			continue
		}
		if !matched {
			continue
		}

		d.MatchedRuleIDs = append(d.MatchedRuleIDs, r.ID)
		if severity(r.Action) > severity(resolved) {
			resolved = r.Action
		}
		// First sanitize-strength match in priority order names the transform.
		if d.Sanitizer == "" && severity(r.Action) == 2 {
			d.Sanitizer = sanitizerFor(r)
		}
	}

	if len(d.MatchedRuleIDs) > 0 {
		d.ReasonCode = ReasonRuleMatch
	} else if len(d.RuleErrors) > 0 {
		d.ReasonCode = ReasonRuleEvalError
	}

	// warn and transform both pass traffic through; only block and sanitize
	// change boundary behavior.
	effective := resolved
	if effective == ActionWarn || effective == ActionTransform {
		if effective == ActionTransform {
			effective = ActionSanitize
		} else {
			effective = ActionAllow
		}
	}

	if p.Mode == ModeShadow {
		// Shadow never blocks or sanitizes traffic; it only records what
		// enforce mode would have done.
		d.ShadowAction = effective
		d.Action = ActionAllow
		return d
	}

	d.Action = effective
	return d
}

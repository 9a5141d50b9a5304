package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/guardline-ai/bastion/internal/detector"
)

// Condition grammar, tried in order:
//
//	contains('needle')            substring, case-insensitive
//	contains(prompt, 'needle')    same; the field name is informational
//	regex('pattern')              RE2 match against the content
//	risk_score >= 0.8             comparison against the verdict's risk score
//	confidence > 0.5              comparison against the verdict's confidence
//	threat_type == prompt_injection
//	anything else                 bare substring fallback, case-insensitive
//
// An empty condition never matches. A condition that parses but cannot be
// evaluated (bad regex, bad number) returns an error so the evaluator can
// isolate the rule with RULE_EVAL_ERROR.

var (
	containsRe   = regexp.MustCompile(`(?i)^contains\(\s*(?:[a-z_]+\s*,\s*)?'([^']*)'\s*\)$`)
	regexCondRe  = regexp.MustCompile(`(?i)^regex\(\s*'(.*)'\s*\)$`)
	scoreCondRe  = regexp.MustCompile(`(?i)^(risk_score|confidence)\s*(>=|<=|==|>|<)\s*([0-9.]+)$`)
	threatCondRe = regexp.MustCompile(`(?i)^threat_type\s*==\s*'?([a-z_]+)'?$`)
)

// regexCache holds compiled regex conditions. Conditions come from stored
// policies, so the cache is small and never evicted.
var regexCache sync.Map // pattern string -> *regexp.Regexp

func compileCached(pattern string) (*regexp.Regexp, error) {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// evalCondition evaluates one guardrail condition against the content and the
// detector verdict (verdict may be nil for detector-less evaluation).
func evalCondition(cond string, content string, verdict *detector.Verdict) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return false, nil
	}

	if m := containsRe.FindStringSubmatch(cond); m != nil {
		return strings.Contains(strings.ToLower(content), strings.ToLower(m[1])), nil
	}

	if m := regexCondRe.FindStringSubmatch(cond); m != nil {
		re, err := compileCached(m[1])
		if err != nil {
			return false, fmt.Errorf("invalid regex condition %q: %w", m[1], err)
		}
		return re.MatchString(content), nil
	}

	if m := scoreCondRe.FindStringSubmatch(cond); m != nil {
		if verdict == nil {
			return false, nil
		}
		threshold, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return false, fmt.Errorf("invalid threshold %q: %w", m[3], err)
		}
		val := verdict.RiskScore
		if strings.EqualFold(m[1], "confidence") {
			val = verdict.Confidence
		}
		return compare(val, m[2], threshold), nil
	}

	if m := threatCondRe.FindStringSubmatch(cond); m != nil {
		if verdict == nil {
			return false, nil
		}
		return strings.EqualFold(string(verdict.ThreatType), m[1]), nil
	}

	// Bare substring fallback, matching the edge evaluator's heuristic.
	return strings.Contains(strings.ToLower(content), strings.ToLower(cond)), nil
}

func compare(val float64, op string, threshold float64) bool {
	switch op {
	case ">=":
		return val >= threshold
	case "<=":
		return val <= threshold
	case ">":
		return val > threshold
	case "<":
		return val < threshold
	case "==":
		return val == threshold
	}
	return false
}

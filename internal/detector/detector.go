package detector

import (
	"context"
	"math"
)

// ThreatType classifies the dominant threat a verdict reports.
type ThreatType string

const (
	ThreatNone            ThreatType = "none"
	ThreatPromptInjection ThreatType = "prompt_injection"
	ThreatSecretLeakage   ThreatType = "secret_leakage"
	ThreatSQLInjection    ThreatType = "sql_injection"
	ThreatXSS             ThreatType = "xss"
	ThreatMaliciousCode   ThreatType = "malicious_code"
	ThreatPII             ThreatType = "pii"
)

// PredictedAction is the action the detector itself would take.
// The policy engine is free to ignore it.
type PredictedAction string

const (
	PredictAllow    PredictedAction = "allow"
	PredictBlock    PredictedAction = "block"
	PredictSanitize PredictedAction = "sanitize"
)

// Context carries request metadata into an analysis run.
type Context struct {
	Source string // "input" or "output"
	UserID string
	Model  string
}

// Features is the structured signal bag computed for every analysis.
type Features struct {
	ContentLength     int     `json:"content_length"`
	TokenEstimate     int     `json:"token_estimate"`
	SpecialCharRatio  float64 `json:"special_char_ratio"`
	InjectionPatterns int     `json:"injection_patterns"`
}

// Signal is the output of a single scanner within a verdict.
type Signal struct {
	Scanner    string     `json:"scanner"`
	Triggered  bool       `json:"triggered"`
	Confidence float64    `json:"confidence"`
	Threat     ThreatType `json:"threat"`
	Details    string     `json:"details,omitempty"`
}

// Verdict is the structured result of scoring one piece of text.
type Verdict struct {
	RiskScore        float64         `json:"risk_score"`
	Confidence       float64         `json:"confidence"`
	ThreatType       ThreatType      `json:"threat_type"`
	PredictedAction  PredictedAction `json:"predicted_action"`
	Explanation      string          `json:"explanation,omitempty"`
	Features         Features        `json:"features"`
	Signals          []Signal        `json:"signals,omitempty"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
}

// Detector scores a single piece of text for threat signals.
// Implementations must be side-effect-free and deterministic for identical
// input and model version, must respect ctx deadlines, and must return a
// zero-confidence verdict (not an error) on internal failure so the policy
// layer decides fail-open versus fail-closed explicitly.
type Detector interface {
	// Name returns the detector's unique identifier (e.g., "heuristic").
	Name() string

	// Analyze scores content and returns a verdict. Must respect ctx deadline.
	Analyze(ctx context.Context, content string, reqCtx Context) (*Verdict, error)
}

// Normalize clamps score fields into [0,1] and maps NaN to 0.
// An undefined risk score scores as 0: fail-open at the scoring layer,
// fail-closed (if configured) at the policy layer.
func (v *Verdict) Normalize() {
	v.RiskScore = clamp01(v.RiskScore)
	v.Confidence = clamp01(v.Confidence)
	if v.ThreatType == "" {
		v.ThreatType = ThreatNone
	}
	if v.PredictedAction == "" {
		v.PredictedAction = PredictAllow
	}
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// ZeroConfidence builds the downgrade verdict used when a detector times out
// or fails internally.
func ZeroConfidence(content, explanation string) *Verdict {
	return &Verdict{
		RiskScore:       0,
		Confidence:      0,
		ThreatType:      ThreatNone,
		PredictedAction: PredictAllow,
		Explanation:     explanation,
		Features:        ComputeFeatures(content),
	}
}

// ComputeFeatures derives the cheap structural features from content.
// Token count is the usual chars/4 estimate.
func ComputeFeatures(content string) Features {
	special := 0
	for _, r := range content {
		if !isWordish(r) {
			special++
		}
	}
	var ratio float64
	if n := len([]rune(content)); n > 0 {
		ratio = float64(special) / float64(n)
	}
	return Features{
		ContentLength:    len(content),
		TokenEstimate:    (len(content) + 3) / 4,
		SpecialCharRatio: ratio,
	}
}

func isWordish(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ' || r == '\t' || r == '\n':
		return true
	}
	return false
}

package policy

import (
	"errors"
	"strings"
	"testing"
)

func validTestPolicy() *Policy {
	return &Policy{
		ID:      "pol_1",
		Name:    "test",
		Version: "1",
		Mode:    ModeEnforce,
		Rules: []Guardrail{
			{ID: "r1", Name: "a", Type: RuleInputFilter, Condition: "contains('x')", Action: ActionBlock},
		},
	}
}

func TestValidate_ValidPolicy(t *testing.T) {
	if err := Validate(validTestPolicy()); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}
}

func TestValidate_ReportsAllFields(t *testing.T) {
	p := &Policy{
		// missing id and name
		Mode: Mode("sideways"),
		Rules: []Guardrail{
			{ID: "r1", Name: "a", Type: RuleType("bogus"), Condition: "x", Action: ActionBlock},
		},
	}

	err := Validate(p)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	// At minimum: missing id/name, bad mode, bad rule type — all reported
	// together, not just the first.
	if len(ve.Fields) < 3 {
		t.Errorf("expected every violation listed, got %d: %v", len(ve.Fields), ve.Fields)
	}
}

func TestValidate_DuplicateRuleIDs(t *testing.T) {
	p := validTestPolicy()
	p.Rules = append(p.Rules, Guardrail{
		ID: "r1", Name: "dup", Type: RuleInputFilter, Condition: "y", Action: ActionWarn,
	})

	err := Validate(p)
	if err == nil {
		t.Fatal("expected duplicate rule id rejection")
	}
	if !strings.Contains(err.Error(), "duplicate rule id") {
		t.Errorf("expected duplicate rule id message, got: %v", err)
	}
}

func TestValidate_BadActionRejected(t *testing.T) {
	p := validTestPolicy()
	p.Rules[0].Action = Action("explode")

	if err := Validate(p); err == nil {
		t.Error("expected invalid action rejection")
	}
}

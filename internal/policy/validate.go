package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// policySchema is the JSON Schema every stored or synced policy must satisfy.
const policySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "mode", "rules"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string"},
    "mode": {"enum": ["off", "shadow", "enforce"]},
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "type", "condition", "action"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "type": {"enum": ["input_filter", "output_filter", "context_check", "format_validation"]},
          "condition": {"type": "string"},
          "action": {"enum": ["block", "sanitize", "warn", "transform"]},
          "priority": {"type": "integer", "minimum": 0},
          "enabled": {"type": "boolean"},
          "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
        }
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(policySchema))
	if err != nil {
		panic(fmt.Sprintf("policy schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("policy.schema.json", doc); err != nil {
		panic(fmt.Sprintf("policy schema: %v", err))
	}
	schema, err := compiler.Compile("policy.schema.json")
	if err != nil {
		panic(fmt.Sprintf("policy schema: %v", err))
	}
	return schema
}

// FieldError is one schema violation, addressed by instance path.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every offending field of an invalid policy, not
// just the first.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "policy validation failed: " + strings.Join(parts, "; ")
}

// Validate checks p against the policy schema plus the invariants the schema
// cannot express (unique rule IDs within a policy). Returns nil or a
// *ValidationError listing all violations.
func Validate(p *Policy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling policy: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decoding policy: %w", err)
	}

	var fields []FieldError
	if err := compiledSchema.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			fields = append(fields, flattenSchemaError(ve)...)
		} else {
			fields = append(fields, FieldError{Field: "(root)", Message: err.Error()})
		}
	}

	seen := make(map[string]bool, len(p.Rules))
	for i, r := range p.Rules {
		if r.ID == "" {
			continue // already reported by the schema
		}
		if seen[r.ID] {
			fields = append(fields, FieldError{
				Field:   fmt.Sprintf("rules[%d].id", i),
				Message: fmt.Sprintf("duplicate rule id %q", r.ID),
			})
		}
		seen[r.ID] = true
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

func flattenSchemaError(err *jsonschema.ValidationError) []FieldError {
	var fields []FieldError
	if len(err.Causes) == 0 {
		path := strings.Join(err.InstanceLocation, ".")
		if path == "" {
			path = "(root)"
		}
		fields = append(fields, FieldError{Field: path, Message: err.Error()})
		return fields
	}
	for _, cause := range err.Causes {
		fields = append(fields, flattenSchemaError(cause)...)
	}
	return fields
}

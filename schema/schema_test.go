package schema

import "testing"

func objectSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"name", "load"},
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":      "string",
				"minLength": 2,
				"maxLength": 10,
				"pattern":   "^[a-z-]+$",
			},
			"load": map[string]interface{}{
				"type":    "number",
				"minimum": 0,
				"maximum": 5000,
			},
			"count": map[string]interface{}{
				"type":       "integer",
				"multipleOf": 5,
			},
			"grade": map[string]interface{}{
				"enum": []interface{}{"a", "b", "c"},
			},
			"members": map[string]interface{}{
				"type":        "array",
				"minItems":    1,
				"maxItems":    3,
				"uniqueItems": true,
			},
		},
		"additionalProperties": false,
	}
}

func TestValidateValidObject(t *testing.T) {
	value := map[string]interface{}{
		"name":    "beam-a",
		"load":    1200.5,
		"count":   15,
		"grade":   "b",
		"members": []interface{}{"m1", "m2"},
	}
	result := Validate(value, objectSchema(), Strict)
	if !result.Valid {
		t.Fatalf("expected valid, got issues: %+v", result.Issues)
	}
}

func TestValidateViolations(t *testing.T) {
	value := map[string]interface{}{
		"name":    "X",          // pattern + minLength
		"load":    9000,         // maximum
		"count":   7,            // multipleOf
		"grade":   "z",          // enum
		"members": []interface{}{"m1", "m1", "m2", "m3"}, // unique + maxItems
		"extra":   true,         // additionalProperties
	}
	result := Validate(value, objectSchema(), Strict)
	if result.Valid {
		t.Fatal("expected invalid result")
	}
	if len(result.Issues) < 6 {
		t.Errorf("expected at least 6 issues, got %d: %+v", len(result.Issues), result.Issues)
	}
	for _, issue := range result.Issues {
		if issue.Severity != SeverityError {
			t.Errorf("strict mode must mark all violations error, got %s at %s", issue.Severity, issue.Path)
		}
	}
}

func TestLaxModeDowngrades(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"ok": map[string]interface{}{"type": "boolean"},
		},
		"additionalProperties": false,
		"minProperties":        3,
	}
	value := map[string]interface{}{"ok": true, "stray": 1}

	strict := Validate(value, schema, Strict)
	if strict.Valid {
		t.Error("strict mode should be invalid")
	}

	lax := Validate(value, schema, Lax)
	if !lax.Valid {
		t.Errorf("lax mode should downgrade to warnings, got %+v", lax.Issues)
	}
	warnings := 0
	for _, issue := range lax.Issues {
		if issue.Severity == SeverityWarning {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("expected 2 warnings (additionalProperties, minProperties), got %d", warnings)
	}
}

func TestTypeMismatchShortCircuits(t *testing.T) {
	result := Validate("not an object", objectSchema(), Strict)
	if result.Valid {
		t.Fatal("expected type error")
	}
	if len(result.Issues) != 1 {
		t.Errorf("type mismatch should not cascade, got %+v", result.Issues)
	}
}

func TestIntegerType(t *testing.T) {
	schema := map[string]interface{}{"type": "integer"}
	if r := Validate(3.0, schema, Strict); !r.Valid {
		t.Error("3.0 is a valid integer after JSON round-trip")
	}
	if r := Validate(3.5, schema, Strict); r.Valid {
		t.Error("3.5 must not validate as integer")
	}
}

func TestNilSchemaAcceptsEverything(t *testing.T) {
	if r := Validate(map[string]interface{}{"anything": true}, nil, Strict); !r.Valid {
		t.Error("nil schema must accept any value")
	}
}

func TestRangeCheckRule(t *testing.T) {
	value := map[string]interface{}{
		"result": map[string]interface{}{"utilization": 1.2},
	}
	issues := ApplyCustomRules(value, []CustomRule{{
		Kind:   "range_check",
		Params: map[string]interface{}{"path": "result.utilization", "min": 0, "max": 1},
	}})
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %+v", issues)
	}
	if issues[0].Path != "$.result.utilization" {
		t.Errorf("unexpected path %q", issues[0].Path)
	}
}

func TestDependencyRule(t *testing.T) {
	rule := CustomRule{
		Kind:   "dependency",
		Params: map[string]interface{}{"if_present": "fallback", "requires": []interface{}{"primary"}},
	}
	issues := ApplyCustomRules(map[string]interface{}{"fallback": 1}, []CustomRule{rule})
	if len(issues) != 1 {
		t.Fatalf("expected dependency violation, got %+v", issues)
	}
	issues = ApplyCustomRules(map[string]interface{}{"fallback": 1, "primary": 2}, []CustomRule{rule})
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestExpressionRule(t *testing.T) {
	value := map[string]interface{}{"total": 120.0, "budget": 100.0}
	issues := ApplyCustomRules(value, []CustomRule{{
		Kind:    "expression",
		Message: "total exceeds budget",
		Params:  map[string]interface{}{"expr": "total <= budget"},
	}})
	if len(issues) != 1 || issues[0].Message != "total exceeds budget" {
		t.Fatalf("expected budget violation, got %+v", issues)
	}

	issues = ApplyCustomRules(value, []CustomRule{{
		Kind:   "expression",
		Params: map[string]interface{}{"expr": "total > 0"},
	}})
	if len(issues) != 0 {
		t.Fatalf("expected pass, got %+v", issues)
	}
}

func TestUnknownRuleKind(t *testing.T) {
	issues := ApplyCustomRules(map[string]interface{}{}, []CustomRule{{Kind: "bogus"}})
	if len(issues) != 1 || issues[0].Severity != SeverityError {
		t.Fatalf("expected error for unknown kind, got %+v", issues)
	}
}

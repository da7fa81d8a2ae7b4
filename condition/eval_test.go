package condition

import (
	"errors"
	"testing"
)

func testScope() *Scope {
	return &Scope{
		Input: map[string]interface{}{
			"load":   1500,
			"vip":    true,
			"region": "eu-west",
			"tags":   []interface{}{"steel", "concrete"},
		},
		Meta: map[string]interface{}{
			"project": "bridge-7",
		},
		Steps: map[string]interface{}{
			"structural": map[string]interface{}{
				"utilization": 0.85,
				"passed":      true,
				"members":     []interface{}{map[string]interface{}{"id": "b1"}},
			},
			"cost": map[string]interface{}{"total": 12000.0},
		},
		StepVars: map[int]string{1: "structural", 2: "cost"},
		Assessment: map[string]interface{}{
			"safety_risk": 0.95,
		},
	}
}

func TestEvaluateComparisons(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"$input.load > 1000", true},
		{"$input.load >= 1500", true},
		{"$input.load < 1500", false},
		{"$input.load <= 1499", false},
		{"$input.load == 1500", true},
		{"$input.load != 1500", false},
		{"$input.region == 'eu-west'", true},
		{"$input.region == \"eu-west\"", true},
		{"$input.vip == true", true},
		{"$step1.utilization > 0.8", false}, // step1 has no output variable named "utilization"
		{"$step1.structural.utilization > 0.8", true},
		{"$steps.cost.total >= 12000", true},
		{"$assessment.safety_risk > 0.9", true},
	}
	scope := testScope()
	for _, tt := range tests {
		got, err := Evaluate(tt.expr, scope)
		if tt.expr == "$step1.utilization > 0.8" {
			// Unresolved output variable should error, not silently return.
			if err == nil {
				t.Errorf("%q: expected unresolved variable error", tt.expr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvaluateLogicalOperators(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"$input.load > 1000 AND $input.vip == true", true},
		{"$input.load > 2000 AND $input.vip == true", false},
		{"$input.load > 2000 OR $input.vip == true", true},
		{"NOT $input.load > 2000", true},
		{"not $input.vip == true", false},
		{"$input.load > 1000 and $input.region == 'eu-west' or $input.vip == false", true},
	}
	scope := testScope()
	for _, tt := range tests {
		got, err := Evaluate(tt.expr, scope)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestShortCircuit(t *testing.T) {
	scope := testScope()
	// Right side references a missing variable; short-circuiting must prevent
	// the resolution error.
	got, err := Evaluate("$input.vip == true OR $input.missing > 1", scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("expected true from short-circuited OR")
	}

	got, err = Evaluate("$input.vip == false AND $input.missing > 1", scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("expected false from short-circuited AND")
	}
}

func TestEmptyExpressionIsTrue(t *testing.T) {
	for _, expr := range []string{"", "   ", "\t\n"} {
		got, err := Evaluate(expr, testScope())
		if err != nil {
			t.Fatalf("empty expression errored: %v", err)
		}
		if !got {
			t.Errorf("empty expression %q should evaluate to true", expr)
		}
	}
}

func TestInOperator(t *testing.T) {
	scope := testScope()
	tests := []struct {
		expr string
		want bool
	}{
		{"$input.region IN ['eu-west', 'eu-east']", true},
		{"$input.region IN ['us-east']", false},
		{"$input.region NOT IN ['us-east']", true},
		{"$input.region NOT IN ['eu-west']", false},
		{"$input.load IN [1500, 2000]", true},
		{"'steel' IN $input.tags", true},
		// Empty list boundaries
		{"$input.region IN []", false},
		{"$input.region NOT IN []", true},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.expr, scope)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q = %v, want %v", tt.expr, got, tt.want)
		}
	}

	// Right side must be a list.
	_, err := Evaluate("$input.region IN $input.load", scope)
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Errorf("expected TypeMismatchError, got %v", err)
	}
}

func TestCrossTypeEquality(t *testing.T) {
	scope := testScope()
	got, err := Evaluate("$input.region == 1500", scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("cross-type equality must be false")
	}
	got, err = Evaluate("$input.region != 1500", scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("cross-type inequality must be true")
	}
}

func TestNumericCoercionAcrossIntAndFloat(t *testing.T) {
	got, err := Evaluate("$step1.cost.total == 12000", testScope())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("int literal should equal float value numerically")
	}
}

func TestErrors(t *testing.T) {
	scope := testScope()

	var parseErr *ParseError
	_, err := Evaluate("$input.load >", scope)
	if !errors.As(err, &parseErr) {
		t.Errorf("expected ParseError, got %v", err)
	}

	var unresolved *UnresolvedVariableError
	_, err = Evaluate("$input.nope == 1", scope)
	if !errors.As(err, &unresolved) {
		t.Errorf("expected UnresolvedVariableError, got %v", err)
	}

	var mismatch *TypeMismatchError
	_, err = Evaluate("$input.region > 10", scope)
	if !errors.As(err, &mismatch) {
		t.Errorf("expected TypeMismatchError, got %v", err)
	}

	var unsupported *UnsupportedOperatorError
	_, err = Evaluate("$input.load = 10", scope)
	if !errors.As(err, &unsupported) {
		t.Errorf("expected UnsupportedOperatorError, got %v", err)
	}
}

func TestEvaluationIsPure(t *testing.T) {
	scope := testScope()
	expr, err := Parse("$input.load > 1000 AND $step1.structural.passed == true")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := expr.Evaluate(scope)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if !got {
			t.Fatal("expected stable true result")
		}
	}
}

func TestResolveReferences(t *testing.T) {
	scope := testScope()

	// Whole-string reference keeps the value's type.
	val, err := ResolveReferences("$step1.structural.utilization", scope)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if f, ok := val.(float64); !ok || f != 0.85 {
		t.Errorf("expected 0.85 float, got %#v", val)
	}

	// Embedded references interpolate.
	val, err = ResolveReferences("region=$input.region load=$input.load", scope)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if val != "region=eu-west load=1500" {
		t.Errorf("unexpected interpolation: %q", val)
	}

	// Unresolvable reference propagates the error.
	if _, err := ResolveReferences("$input.missing", scope); err == nil {
		t.Error("expected resolution error")
	}
}

func TestResolveBareStepReference(t *testing.T) {
	scope := testScope()

	// $stepN with no trailing path yields the step's whole output.
	val, err := ResolveReferences("$step2", scope)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	out, ok := val.(map[string]interface{})
	if !ok || out["total"] != 12000.0 {
		t.Errorf("expected cost output map, got %#v", val)
	}

	// A step that has not recorded an output is unresolvable.
	var unresolved *UnresolvedVariableError
	if _, err := ResolveReferences("$step3", scope); !errors.As(err, &unresolved) {
		t.Errorf("expected UnresolvedVariableError, got %v", err)
	}

	// Bare $steps stays unresolvable; only numbered heads carry a mapping.
	if _, err := ResolveReferences("$steps", scope); err == nil {
		t.Error("expected resolution error for bare $steps")
	}
}

func TestResolveMapping(t *testing.T) {
	scope := testScope()
	resolved, err := ResolveMapping(map[string]string{
		"u":     "$step1.structural.utilization",
		"fixed": "plain text",
	}, scope)
	if err != nil {
		t.Fatalf("resolve mapping: %v", err)
	}
	if resolved["u"] != 0.85 {
		t.Errorf("expected 0.85, got %v", resolved["u"])
	}
	if resolved["fixed"] != "plain text" {
		t.Errorf("plain values must pass through, got %v", resolved["fixed"])
	}
}

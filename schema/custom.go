package schema

import (
	"fmt"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/expr-lang/expr"
)

// CustomRule is applied after schema validation. Three kinds are supported:
//
//	range_check: params {path, min?, max?} — numeric bound on a nested field
//	dependency:  params {if_present, requires []} — co-occurrence constraint
//	expression:  params {expr} — boolean expr-lang program over the value
type CustomRule struct {
	Kind     string                 `json:"kind" yaml:"kind"`
	Message  string                 `json:"message,omitempty" yaml:"message,omitempty"`
	Severity Severity               `json:"severity,omitempty" yaml:"severity,omitempty"`
	Params   map[string]interface{} `json:"params" yaml:"params"`
}

// ApplyCustomRules evaluates the rules against a value and returns issues.
// Unknown rule kinds produce an error-severity issue rather than a panic.
func ApplyCustomRules(value interface{}, rules []CustomRule) []Issue {
	var issues []Issue
	for _, rule := range rules {
		sev := rule.Severity
		if sev == "" {
			sev = SeverityError
		}
		switch rule.Kind {
		case "range_check":
			issues = append(issues, applyRangeCheck(value, rule, sev)...)
		case "dependency":
			issues = append(issues, applyDependency(value, rule, sev)...)
		case "expression":
			issues = append(issues, applyExpression(value, rule, sev)...)
		default:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "$",
				Message:  fmt.Sprintf("unknown custom rule kind %q", rule.Kind),
			})
		}
	}
	return issues
}

func applyRangeCheck(value interface{}, rule CustomRule, sev Severity) []Issue {
	path, _ := rule.Params["path"].(string)
	container := gabs.Wrap(value)
	target := container.Path(path)
	if target == nil {
		return []Issue{{Severity: sev, Path: "$." + path, Message: "range_check path not found"}}
	}
	f, ok := toFloat(target.Data())
	if !ok {
		return []Issue{{Severity: sev, Path: "$." + path, Message: "range_check target is not numeric", Actual: target.Data()}}
	}
	var issues []Issue
	if min, ok := toFloat(rule.Params["min"]); ok && f < min {
		issues = append(issues, Issue{Severity: sev, Path: "$." + path, Message: ruleMessage(rule, fmt.Sprintf("value below %v", min)), Expected: min, Actual: f})
	}
	if max, ok := toFloat(rule.Params["max"]); ok && f > max {
		issues = append(issues, Issue{Severity: sev, Path: "$." + path, Message: ruleMessage(rule, fmt.Sprintf("value above %v", max)), Expected: max, Actual: f})
	}
	return issues
}

func applyDependency(value interface{}, rule CustomRule, sev Severity) []Issue {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return []Issue{{Severity: sev, Path: "$", Message: "dependency rule requires an object value"}}
	}
	ifPresent, _ := rule.Params["if_present"].(string)
	if _, present := obj[ifPresent]; !present {
		return nil
	}
	var issues []Issue
	requires, _ := rule.Params["requires"].([]interface{})
	for _, r := range requires {
		name, _ := r.(string)
		if _, present := obj[name]; !present {
			issues = append(issues, Issue{
				Severity: sev,
				Path:     "$." + name,
				Message:  ruleMessage(rule, fmt.Sprintf("%q requires %q to be present", ifPresent, name)),
				Expected: name,
			})
		}
	}
	return issues
}

// applyExpression compiles and runs an expr-lang program with the value's
// top-level fields as the environment. The program must yield a boolean;
// false or any evaluation error produces an issue.
func applyExpression(value interface{}, rule CustomRule, sev Severity) []Issue {
	source, _ := rule.Params["expr"].(string)
	if strings.TrimSpace(source) == "" {
		return []Issue{{Severity: SeverityError, Path: "$", Message: "expression rule missing expr param"}}
	}
	env, ok := value.(map[string]interface{})
	if !ok {
		env = map[string]interface{}{"value": value}
	}
	program, err := expr.Compile(source, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return []Issue{{Severity: SeverityError, Path: "$", Message: fmt.Sprintf("expression compile error: %v", err)}}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return []Issue{{Severity: sev, Path: "$", Message: fmt.Sprintf("expression runtime error: %v", err)}}
	}
	if pass, _ := out.(bool); !pass {
		return []Issue{{Severity: sev, Path: "$", Message: ruleMessage(rule, fmt.Sprintf("expression %q not satisfied", source))}}
	}
	return nil
}

func ruleMessage(rule CustomRule, fallback string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fallback
}

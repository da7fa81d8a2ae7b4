// Package schema validates values against a JSON-schema-draft-7-compatible
// subset. It is used for workflow input validation (strict mode) and step
// output validation (lax mode).
package schema

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Mode selects how violations are graded.
type Mode int

const (
	// Strict marks all violations as errors. Default for input validation.
	Strict Mode = iota
	// Lax downgrades additionalProperties and minProperties violations to
	// warnings. Used for step output validation.
	Lax
)

// Issue describes a single validation finding.
type Issue struct {
	Severity Severity    `json:"severity"`
	Path     string      `json:"path"`
	Message  string      `json:"message"`
	Expected interface{} `json:"expected,omitempty"`
	Actual   interface{} `json:"actual,omitempty"`
}

// ValidationResult aggregates issues. Valid is false iff any issue has
// error severity.
type ValidationResult struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// Validate checks value against the schema subset. A nil schema accepts
// everything.
func Validate(value interface{}, schema map[string]interface{}, mode Mode) ValidationResult {
	v := &validator{mode: mode}
	v.validate(value, schema, "$")
	return ValidationResult{Valid: !v.hasErrors(), Issues: v.issues}
}

type validator struct {
	mode   Mode
	issues []Issue
}

func (v *validator) hasErrors() bool {
	for _, issue := range v.issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (v *validator) add(sev Severity, path, message string, expected, actual interface{}) {
	v.issues = append(v.issues, Issue{Severity: sev, Path: path, Message: message, Expected: expected, Actual: actual})
}

// laxDowngrade returns warning severity in lax mode, error otherwise. Applied
// only to additionalProperties and minProperties violations.
func (v *validator) laxDowngrade() Severity {
	if v.mode == Lax {
		return SeverityWarning
	}
	return SeverityError
}

func (v *validator) validate(value interface{}, schema map[string]interface{}, path string) {
	if schema == nil {
		return
	}

	if want, ok := schema["type"].(string); ok {
		if !typeMatches(value, want) {
			v.add(SeverityError, path, fmt.Sprintf("expected type %s", want), want, typeName(value))
			return
		}
	}

	if enum, ok := schema["enum"].([]interface{}); ok {
		found := false
		for _, allowed := range enum {
			if looseEqual(value, allowed) {
				found = true
				break
			}
		}
		if !found {
			v.add(SeverityError, path, "value not in enum", enum, value)
		}
	}

	switch val := value.(type) {
	case map[string]interface{}:
		v.validateObject(val, schema, path)
	case []interface{}:
		v.validateArray(val, schema, path)
	case string:
		v.validateString(val, schema, path)
	default:
		if f, ok := toFloat(value); ok {
			v.validateNumber(f, schema, path)
		}
	}
}

func (v *validator) validateObject(obj map[string]interface{}, schema map[string]interface{}, path string) {
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			name, _ := r.(string)
			if _, present := obj[name]; !present {
				v.add(SeverityError, path+"."+name, "required property missing", name, nil)
			}
		}
	}

	props, _ := schema["properties"].(map[string]interface{})
	for name, raw := range props {
		propSchema, _ := raw.(map[string]interface{})
		if child, present := obj[name]; present {
			v.validate(child, propSchema, path+"."+name)
		}
	}

	if ap, ok := schema["additionalProperties"].(bool); ok && !ap {
		for name := range obj {
			if _, declared := props[name]; !declared {
				v.add(v.laxDowngrade(), path+"."+name, "additional property not allowed", nil, name)
			}
		}
	}

	if minProps, ok := toFloat(schema["minProperties"]); ok && float64(len(obj)) < minProps {
		v.add(v.laxDowngrade(), path, fmt.Sprintf("object has fewer than %d properties", int(minProps)), int(minProps), len(obj))
	}
}

func (v *validator) validateArray(arr []interface{}, schema map[string]interface{}, path string) {
	if minItems, ok := toFloat(schema["minItems"]); ok && float64(len(arr)) < minItems {
		v.add(SeverityError, path, fmt.Sprintf("array has fewer than %d items", int(minItems)), int(minItems), len(arr))
	}
	if maxItems, ok := toFloat(schema["maxItems"]); ok && float64(len(arr)) > maxItems {
		v.add(SeverityError, path, fmt.Sprintf("array has more than %d items", int(maxItems)), int(maxItems), len(arr))
	}
	if unique, ok := schema["uniqueItems"].(bool); ok && unique {
		for i := 0; i < len(arr); i++ {
			for j := i + 1; j < len(arr); j++ {
				if reflect.DeepEqual(arr[i], arr[j]) {
					v.add(SeverityError, fmt.Sprintf("%s[%d]", path, j), "duplicate array item", nil, arr[j])
				}
			}
		}
	}
	if itemSchema, ok := schema["items"].(map[string]interface{}); ok {
		for i, item := range arr {
			v.validate(item, itemSchema, fmt.Sprintf("%s[%d]", path, i))
		}
	}
}

func (v *validator) validateString(s string, schema map[string]interface{}, path string) {
	if minLen, ok := toFloat(schema["minLength"]); ok && float64(len(s)) < minLen {
		v.add(SeverityError, path, fmt.Sprintf("string shorter than %d", int(minLen)), int(minLen), len(s))
	}
	if maxLen, ok := toFloat(schema["maxLength"]); ok && float64(len(s)) > maxLen {
		v.add(SeverityError, path, fmt.Sprintf("string longer than %d", int(maxLen)), int(maxLen), len(s))
	}
	if pattern, ok := schema["pattern"].(string); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			v.add(SeverityError, path, fmt.Sprintf("invalid pattern %q: %v", pattern, err), pattern, nil)
		} else if !re.MatchString(s) {
			v.add(SeverityError, path, fmt.Sprintf("string does not match pattern %q", pattern), pattern, s)
		}
	}
}

func (v *validator) validateNumber(f float64, schema map[string]interface{}, path string) {
	if min, ok := toFloat(schema["minimum"]); ok && f < min {
		v.add(SeverityError, path, fmt.Sprintf("value below minimum %v", min), min, f)
	}
	if max, ok := toFloat(schema["maximum"]); ok && f > max {
		v.add(SeverityError, path, fmt.Sprintf("value above maximum %v", max), max, f)
	}
	if mult, ok := toFloat(schema["multipleOf"]); ok && mult != 0 {
		ratio := f / mult
		if math.Abs(ratio-math.Round(ratio)) > 1e-9 {
			v.add(SeverityError, path, fmt.Sprintf("value is not a multiple of %v", mult), mult, f)
		}
	}
}

func typeMatches(value interface{}, want string) bool {
	switch want {
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "null":
		return value == nil
	case "number":
		_, ok := toFloat(value)
		return ok
	case "integer":
		f, ok := toFloat(value)
		return ok && f == math.Trunc(f)
	default:
		return false
	}
}

func typeName(value interface{}) string {
	switch value.(type) {
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		if _, ok := toFloat(value); ok {
			return "number"
		}
		return fmt.Sprintf("%T", value)
	}
}

func looseEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

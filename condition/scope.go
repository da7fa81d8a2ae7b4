package condition

import (
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// Scope is the read-only snapshot a condition is evaluated against.
//
// Variable heads map to scope fields:
//
//	$input.f       -> Input["f"]
//	$context.f     -> Meta["f"]
//	$stepN         -> Steps[StepVars[N]] (the step's whole output)
//	$stepN.var     -> Steps["var"] (first segment after stepN is the step's
//	                  output variable; remaining segments walk nested values)
//	$steps.var     -> Steps["var"] (final-workflow rule namespace)
//	$assessment.f  -> Assessment field (risk engine namespace)
type Scope struct {
	Input      map[string]interface{}
	Meta       map[string]interface{}
	Steps      map[string]interface{}
	Assessment map[string]interface{}

	// StepVars maps step numbers to their output variables, so a bare
	// $stepN reference resolves without naming the variable.
	StepVars map[int]string
}

// Resolve resolves a dotted variable path (without the leading '$') against
// the scope. A missing key at any level yields UnresolvedVariableError.
func (s *Scope) Resolve(path []string) (interface{}, error) {
	if len(path) == 0 {
		return nil, &UnresolvedVariableError{Variable: ""}
	}
	raw := strings.Join(path, ".")
	head, rest := path[0], path[1:]

	switch {
	case head == "input":
		return walk(s.Input, rest, raw)
	case head == "context":
		return walk(s.Meta, rest, raw)
	case head == "assessment":
		if s.Assessment == nil {
			return nil, &UnresolvedVariableError{Variable: raw}
		}
		return walk(s.Assessment, rest, raw)
	case head == "steps":
		return s.resolveStep(0, rest, raw)
	default:
		if n, ok := stepNumber(head); ok {
			return s.resolveStep(n, rest, raw)
		}
		return nil, &UnresolvedVariableError{Variable: raw}
	}
}

// resolveStep resolves references into recorded step outputs. With no
// trailing segments, a $stepN head yields that step's whole output.
func (s *Scope) resolveStep(number int, rest []string, raw string) (interface{}, error) {
	if len(rest) == 0 {
		name, ok := s.StepVars[number]
		if !ok {
			return nil, &UnresolvedVariableError{Variable: raw}
		}
		val, ok := s.Steps[name]
		if !ok {
			return nil, &UnresolvedVariableError{Variable: raw}
		}
		return val, nil
	}
	val, ok := s.Steps[rest[0]]
	if !ok {
		return nil, &UnresolvedVariableError{Variable: raw}
	}
	return walkValue(val, rest[1:], raw)
}

// walk resolves a path against a map, requiring every segment to exist.
func walk(m map[string]interface{}, path []string, raw string) (interface{}, error) {
	if m == nil {
		return nil, &UnresolvedVariableError{Variable: raw}
	}
	if len(path) == 0 {
		return m, nil
	}
	val, ok := m[path[0]]
	if !ok {
		return nil, &UnresolvedVariableError{Variable: raw}
	}
	return walkValue(val, path[1:], raw)
}

// walkValue walks nested containers using gabs, which handles the mixed
// map/slice shapes that step outputs take after JSON round-trips.
func walkValue(val interface{}, path []string, raw string) (interface{}, error) {
	if len(path) == 0 {
		return val, nil
	}
	container := gabs.Wrap(val)
	for _, seg := range path {
		next := container.Search(seg)
		if next == nil {
			// Numeric segments index into arrays.
			if idx, err := strconv.Atoi(seg); err == nil {
				if children := container.Children(); idx >= 0 && idx < len(children) {
					container = children[idx]
					continue
				}
			}
			return nil, &UnresolvedVariableError{Variable: raw}
		}
		container = next
	}
	return container.Data(), nil
}

// stepNumber extracts N from a "stepN" head, where N is a positive integer.
func stepNumber(head string) (int, bool) {
	if !strings.HasPrefix(head, "step") || len(head) == len("step") {
		return 0, false
	}
	n, err := strconv.Atoi(head[len("step"):])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

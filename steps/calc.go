package steps

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/structa/flowgate/executor"
)

// CalcFunc is a pure in-process calculation over the step's resolved input.
type CalcFunc func(input map[string]interface{}) (interface{}, error)

// CalcExecutor dispatches to named pure functions. The step input selects
// the function through its "operation" value, falling back to the step
// name. Useful for demo workflows and tests where no external service is
// involved.
type CalcExecutor struct {
	kind string
	ops  map[string]CalcFunc
}

// NewCalcExecutor creates an adapter with the built-in operations.
func NewCalcExecutor(kind string) *CalcExecutor {
	e := &CalcExecutor{
		kind: kind,
		ops:  make(map[string]CalcFunc),
	}
	e.Register("sum", opSum)
	e.Register("stats", opStats)
	e.Register("scale", opScale)
	return e
}

// Register adds or replaces a named operation.
func (e *CalcExecutor) Register(name string, fn CalcFunc) {
	e.ops[name] = fn
}

// Operations lists the registered operation names.
func (e *CalcExecutor) Operations() []string {
	out := make([]string, 0, len(e.ops))
	for name := range e.ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (e *CalcExecutor) Kind() string { return e.kind }

func (e *CalcExecutor) Execute(_ context.Context, step *executor.Step, input map[string]interface{}) (interface{}, error) {
	name := step.Name
	if op, ok := input["operation"].(string); ok && op != "" {
		name = op
	}
	fn, ok := e.ops[name]
	if !ok {
		return nil, fmt.Errorf("step %q: invalid input: unknown operation %q", step.Name, name)
	}
	return fn(input)
}

func numberList(input map[string]interface{}) ([]float64, error) {
	raw, ok := input["values"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid input: values must be a list of numbers")
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		default:
			return nil, fmt.Errorf("invalid input: values must be a list of numbers")
		}
	}
	return out, nil
}

func opSum(input map[string]interface{}) (interface{}, error) {
	values, err := numberList(input)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return map[string]interface{}{"sum": total, "count": len(values)}, nil
}

func opStats(input map[string]interface{}) (interface{}, error) {
	values, err := numberList(input)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("invalid input: values is empty")
	}
	min, max, total := math.Inf(1), math.Inf(-1), 0.0
	for _, v := range values {
		min = math.Min(min, v)
		max = math.Max(max, v)
		total += v
	}
	return map[string]interface{}{
		"min":  min,
		"max":  max,
		"mean": total / float64(len(values)),
	}, nil
}

func opScale(input map[string]interface{}) (interface{}, error) {
	values, err := numberList(input)
	if err != nil {
		return nil, err
	}
	factor, ok := input["factor"].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid input: factor must be a number")
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v * factor
	}
	return map[string]interface{}{"values": out}, nil
}

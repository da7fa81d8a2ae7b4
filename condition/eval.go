package condition

import (
	"reflect"
)

// Evaluate parses and evaluates an expression against a scope. An empty
// expression evaluates to true. Evaluation is pure: the same expression and
// scope always yield the same result.
func Evaluate(input string, scope *Scope) (bool, error) {
	expr, err := Parse(input)
	if err != nil {
		return false, err
	}
	return expr.Evaluate(scope)
}

// Evaluate evaluates a parsed expression against a scope.
func (e *Expr) Evaluate(scope *Scope) (bool, error) {
	if e.root == nil {
		return true, nil
	}
	return e.root.evalBool(scope)
}

type node interface {
	evalBool(scope *Scope) (bool, error)
}

// valueNode is implemented by nodes that produce a value operand.
type valueNode interface {
	evalValue(scope *Scope) (interface{}, error)
}

type logicalNode struct {
	op    string // AND or OR
	terms []node
}

// evalBool short-circuits left to right.
func (n *logicalNode) evalBool(scope *Scope) (bool, error) {
	for _, term := range n.terms {
		v, err := term.evalBool(scope)
		if err != nil {
			return false, err
		}
		if n.op == "AND" && !v {
			return false, nil
		}
		if n.op == "OR" && v {
			return true, nil
		}
	}
	return n.op == "AND", nil
}

type notNode struct {
	inner node
}

func (n *notNode) evalBool(scope *Scope) (bool, error) {
	v, err := n.inner.evalBool(scope)
	if err != nil {
		return false, err
	}
	return !v, nil
}

type truthyNode struct {
	value node
}

func (n *truthyNode) evalBool(scope *Scope) (bool, error) {
	vn, ok := n.value.(valueNode)
	if !ok {
		return n.value.evalBool(scope)
	}
	v, err := vn.evalValue(scope)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TypeMismatchError{Op: "bool", Left: v, Message: "bare value must be boolean"}
	}
	return b, nil
}

type comparisonNode struct {
	op    string
	left  node
	right node
}

func (n *comparisonNode) evalBool(scope *Scope) (bool, error) {
	lv, err := n.left.(valueNode).evalValue(scope)
	if err != nil {
		return false, err
	}
	rv, err := n.right.(valueNode).evalValue(scope)
	if err != nil {
		return false, err
	}

	switch n.op {
	case "==":
		return valuesEqual(lv, rv), nil
	case "!=":
		return !valuesEqual(lv, rv), nil
	case "<", ">", "<=", ">=":
		lf, lok := toFloat(lv)
		rf, rok := toFloat(rv)
		if !lok || !rok {
			return false, &TypeMismatchError{Op: n.op, Left: lv, Right: rv, Message: "ordering comparison requires numeric operands"}
		}
		switch n.op {
		case "<":
			return lf < rf, nil
		case ">":
			return lf > rf, nil
		case "<=":
			return lf <= rf, nil
		default:
			return lf >= rf, nil
		}
	case "IN", "NOT IN":
		items, ok := toList(rv)
		if !ok {
			return false, &TypeMismatchError{Op: n.op, Left: lv, Right: rv, Message: "right side must be a list"}
		}
		found := false
		for _, item := range items {
			if valuesEqual(lv, item) {
				found = true
				break
			}
		}
		if n.op == "IN" {
			return found, nil
		}
		return !found, nil
	default:
		return false, &UnsupportedOperatorError{Op: n.op}
	}
}

type literalNode struct {
	value interface{}
}

func (n *literalNode) evalBool(scope *Scope) (bool, error) {
	b, ok := n.value.(bool)
	if !ok {
		return false, &TypeMismatchError{Op: "bool", Left: n.value, Message: "literal is not boolean"}
	}
	return b, nil
}

func (n *literalNode) evalValue(scope *Scope) (interface{}, error) {
	return n.value, nil
}

type variableNode struct {
	path []string
	raw  string
}

func (n *variableNode) evalBool(scope *Scope) (bool, error) {
	v, err := n.evalValue(scope)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TypeMismatchError{Op: "bool", Left: v, Message: "variable $" + n.raw + " is not boolean"}
	}
	return b, nil
}

func (n *variableNode) evalValue(scope *Scope) (interface{}, error) {
	return scope.Resolve(n.path)
}

type listNode struct {
	items []node
}

func (n *listNode) evalBool(scope *Scope) (bool, error) {
	return false, &TypeMismatchError{Op: "bool", Message: "list is not boolean"}
}

func (n *listNode) evalValue(scope *Scope) (interface{}, error) {
	out := make([]interface{}, 0, len(n.items))
	for _, item := range n.items {
		v, err := item.(valueNode).evalValue(scope)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// valuesEqual implements structural equality: numerics compare numerically,
// everything else requires matching dynamic types. Cross-type comparison is
// never equal.
func valuesEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
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
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toList(v interface{}) ([]interface{}, bool) {
	switch items := v.(type) {
	case []interface{}:
		return items, true
	case []string:
		out := make([]interface{}, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]interface{}, len(items))
		for i, n := range items {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]interface{}, len(items))
		for i, f := range items {
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}

package condition

import "fmt"

// ParseError reports a syntax error in a condition expression.
type ParseError struct {
	Expression string
	Pos        int
	Message    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s", e.Pos, e.Message)
}

// UnresolvedVariableError reports a variable path that could not be resolved
// against the evaluation scope.
type UnresolvedVariableError struct {
	Variable string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variable: $%s", e.Variable)
}

// TypeMismatchError reports an operator applied to incompatible operand types.
type TypeMismatchError struct {
	Op      string
	Left    interface{}
	Right   interface{}
	Message string
}

func (e *TypeMismatchError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("type mismatch for %q: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("type mismatch for %q: %T vs %T", e.Op, e.Left, e.Right)
}

// UnsupportedOperatorError reports an operator outside the condition grammar.
type UnsupportedOperatorError struct {
	Op string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported operator: %q", e.Op)
}

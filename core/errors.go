package core

import (
	"context"
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Workflow lookup errors
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrRulesNotFound     = errors.New("risk rules not found")
	ErrExecutionNotFound = errors.New("execution not found")

	// Definition errors
	ErrInvalidWorkflow      = errors.New("invalid workflow definition")
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrCancelled          = errors.New("execution cancelled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Streaming errors
	ErrStreamClosed   = errors.New("stream closed")
	ErrStreamNotFound = errors.New("stream not found")

	// Step dispatch errors
	ErrUnknownStepKind = errors.New("unknown step kind")
)

// RuntimeError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type RuntimeError struct {
	Op      string // Operation that failed (e.g., "executor.RunStep")
	Kind    string // Error kind (e.g., "validation", "condition", "audit")
	ID      string // Optional ID of the entity involved (step name, rule id)
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

func (e *RuntimeError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError.
func NewRuntimeError(op, kind string, err error) *RuntimeError {
	return &RuntimeError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsNotFound checks if an error represents a "not found" condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrRulesNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrStreamNotFound)
}

// IsCancellation checks if an error stems from caller cancellation.
// Cancellation must propagate unchanged through retry and timeout layers,
// so they use this guard rather than message matching.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

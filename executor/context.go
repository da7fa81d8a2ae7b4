// Package executor runs workflow steps in dependency-ordered parallel waves.
package executor

import (
	"sync/atomic"

	"github.com/structa/flowgate/condition"
)

// ExecutionContext holds the state of one run. It is owned by a single
// executor; everything else reads snapshots. Input and Meta are never
// mutated after construction, and Steps entries are only added, never
// replaced.
type ExecutionContext struct {
	ExecutionID string
	Input       map[string]interface{}
	Meta        map[string]interface{}
	Steps       map[string]interface{}

	// stepVars tracks which output variable each completed step wrote,
	// so bare $stepN references resolve.
	stepVars map[int]string

	// cancelled may be set from outside the executor goroutine.
	cancelled atomic.Bool
	completed int
	total     int
}

// NewExecutionContext builds the context for a run of total steps.
func NewExecutionContext(executionID string, input, meta map[string]interface{}, total int) *ExecutionContext {
	if input == nil {
		input = map[string]interface{}{}
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return &ExecutionContext{
		ExecutionID: executionID,
		Input:       input,
		Meta:        meta,
		Steps:       make(map[string]interface{}),
		stepVars:    make(map[int]string),
		total:       total,
	}
}

// Snapshot returns a condition scope over a shallow copy of the steps map.
// Input and Meta are shared because they are immutable; step outputs are
// treated as immutable once recorded.
func (c *ExecutionContext) Snapshot() *condition.Scope {
	steps := make(map[string]interface{}, len(c.Steps))
	for k, v := range c.Steps {
		steps[k] = v
	}
	stepVars := make(map[int]string, len(c.stepVars))
	for k, v := range c.stepVars {
		stepVars[k] = v
	}
	return &condition.Scope{
		Input:    c.Input,
		Meta:     c.Meta,
		Steps:    steps,
		StepVars: stepVars,
	}
}

// recordOutput adds a completed step's output under its output variable.
// Called only by the owning executor, post-wave.
func (c *ExecutionContext) recordOutput(stepNumber int, outputVariable string, value interface{}) {
	c.Steps[outputVariable] = value
	c.stepVars[stepNumber] = outputVariable
}

// Cancel sets the cancelled flag. Idempotent, never cleared.
func (c *ExecutionContext) Cancel() { c.cancelled.Store(true) }

// Cancelled reports whether the run has been cancelled.
func (c *ExecutionContext) Cancelled() bool { return c.cancelled.Load() }

// Progress returns the completed and total step counters.
func (c *ExecutionContext) Progress() (completed, total int) {
	return c.completed, c.total
}

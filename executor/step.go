package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/structa/flowgate/core"
	"github.com/structa/flowgate/resilience"
)

// OnError says what a step failure does to the run.
type OnError string

const (
	OnErrorFail     OnError = "fail"     // cancel the remaining waves
	OnErrorSkip     OnError = "skip"     // record failure, keep going
	OnErrorFallback OnError = "fallback" // substitute FallbackValue, mark completed
)

// Valid reports whether the policy value is one of the known modes or unset.
func (o OnError) Valid() bool {
	switch o {
	case "", OnErrorFail, OnErrorSkip, OnErrorFallback:
		return true
	}
	return false
}

// ErrorPolicy bundles a step's failure handling, retry, and timeout knobs.
type ErrorPolicy struct {
	OnError        OnError                `json:"on_error" yaml:"on_error"`
	RetryCount     int                    `json:"retry_count" yaml:"retry_count"`
	BaseDelaySec   float64                `json:"base_delay_sec" yaml:"base_delay_sec"`
	MaxDelaySec    float64                `json:"max_delay_sec" yaml:"max_delay_sec"`
	TimeoutSec     float64                `json:"timeout_sec" yaml:"timeout_sec"`
	RetryOnTimeout bool                   `json:"retry_on_timeout" yaml:"retry_on_timeout"`
	FallbackValue  map[string]interface{} `json:"fallback_value,omitempty" yaml:"fallback_value,omitempty"`
}

// Mode returns the failure policy. An unset value means fail: a step that
// declared nothing must not silently let its failure pass.
func (p ErrorPolicy) Mode() OnError {
	if p.OnError == "" {
		return OnErrorFail
	}
	return p.OnError
}

// retryConfig renders the policy as resilience settings.
func (p ErrorPolicy) retryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		RetryCount:     p.RetryCount,
		BaseDelay:      time.Duration(p.BaseDelaySec * float64(time.Second)),
		MaxDelay:       time.Duration(p.MaxDelaySec * float64(time.Second)),
		Jitter:         true,
		RetryOnTimeout: p.RetryOnTimeout,
	}
}

func (p ErrorPolicy) timeout() time.Duration {
	return time.Duration(p.TimeoutSec * float64(time.Second))
}

// Step is one unit of workflow work.
type Step struct {
	Number         int                    `json:"step_number" yaml:"step_number"`
	Name           string                 `json:"step_name" yaml:"step_name"`
	Kind           string                 `json:"kind" yaml:"kind"`
	Condition      string                 `json:"condition,omitempty" yaml:"condition,omitempty"`
	InputMapping   map[string]string      `json:"input_mapping,omitempty" yaml:"input_mapping,omitempty"`
	OutputVariable string                 `json:"output_variable" yaml:"output_variable"`
	ErrorHandling  ErrorPolicy            `json:"error_handling" yaml:"error_handling"`
	InputSchema    map[string]interface{} `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema   map[string]interface{} `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
}

// Expressions returns the step's reference-bearing strings for dependency
// scanning.
func (s *Step) Expressions() []string {
	out := make([]string, 0, len(s.InputMapping)+1)
	if s.Condition != "" {
		out = append(out, s.Condition)
	}
	for _, expr := range s.InputMapping {
		out = append(out, expr)
	}
	return out
}

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
)

// StepResult is the recorded outcome of one step attempt chain.
type StepResult struct {
	StepNumber    int                       `json:"step_number"`
	StepName      string                    `json:"step_name"`
	Status        StepStatus                `json:"status"`
	OutputData    interface{}               `json:"output_data,omitempty"`
	ErrorMessage  string                    `json:"error_message,omitempty"`
	RetryMetadata *resilience.RetryMetadata `json:"retry_metadata,omitempty"`
	StartedAt     time.Time                 `json:"started_at"`
	CompletedAt   time.Time                 `json:"completed_at"`
}

// StepExecutor performs the actual work of one step kind. Implementations
// are adapters: HTTP calls, LLM completions, in-process calculations.
type StepExecutor interface {
	// Kind names the step kinds this executor handles.
	Kind() string
	// Execute runs the step with its resolved inputs. The context carries
	// the per-attempt deadline.
	Execute(ctx context.Context, step *Step, input map[string]interface{}) (interface{}, error)
}

// Registry dispatches steps to executors by kind.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]StepExecutor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]StepExecutor)}
}

// Register adds an executor. Registering the same kind twice replaces the
// earlier executor.
func (r *Registry) Register(exec StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[exec.Kind()] = exec
}

// Lookup returns the executor for a kind or ErrUnknownStepKind.
func (r *Registry) Lookup(kind string) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("step kind %q: %w", kind, core.ErrUnknownStepKind)
	}
	return exec, nil
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.executors))
	for kind := range r.executors {
		out = append(out, kind)
	}
	return out
}

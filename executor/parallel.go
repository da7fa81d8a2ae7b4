package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/structa/flowgate/condition"
	"github.com/structa/flowgate/core"
	"github.com/structa/flowgate/graph"
	"github.com/structa/flowgate/resilience"
	"github.com/structa/flowgate/schema"
	"github.com/structa/flowgate/streaming"
)

// speedupEfficiency discounts the theoretical wave speedup. Documented
// estimate, not a measurement.
const speedupEfficiency = 0.7

// ExecutionStatus is the overall outcome of a run.
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Publisher receives execution events. Delivery is best effort.
type Publisher interface {
	Publish(event streaming.Event) error
}

// StepHook is called after each step settles, with the result and a
// snapshot of the context as of that step's wave.
type StepHook func(result StepResult, scope *condition.Scope)

// ParallelExecutionResult is what a run returns.
type ParallelExecutionResult struct {
	Status          ExecutionStatus   `json:"status"`
	StepResults     []StepResult      `json:"step_results"`
	Context         *ExecutionContext `json:"-"`
	TotalTimeMs     int64             `json:"total_time_ms"`
	ParallelSpeedup float64           `json:"parallel_speedup"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	CancelledAtStep *int              `json:"cancelled_at_step,omitempty"`
}

// ParallelExecutor runs a workflow's steps wave by wave.
type ParallelExecutor struct {
	registry       *Registry
	logger         core.Logger
	publisher      Publisher
	stepHook       StepHook
	enableParallel bool
}

// Option configures a ParallelExecutor.
type Option func(*ParallelExecutor)

// WithLogger sets the executor's logger.
func WithLogger(logger core.Logger) Option {
	return func(e *ParallelExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPublisher attaches an event sink.
func WithPublisher(p Publisher) Option {
	return func(e *ParallelExecutor) { e.publisher = p }
}

// WithStepHook attaches a per-step completion callback.
func WithStepHook(hook StepHook) Option {
	return func(e *ParallelExecutor) { e.stepHook = hook }
}

// WithSequentialMode disables wave parallelism. Steps run strictly in
// step-number order. Debugging aid.
func WithSequentialMode() Option {
	return func(e *ParallelExecutor) { e.enableParallel = false }
}

// NewParallelExecutor creates an executor over a kind registry.
func NewParallelExecutor(registry *Registry, opts ...Option) *ParallelExecutor {
	e := &ParallelExecutor{
		registry:       registry,
		logger:         &core.NoOpLogger{},
		enableParallel: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the steps against the input. The returned step results are
// sorted by step number regardless of completion order.
func (e *ParallelExecutor) Execute(ctx context.Context, execCtx *ExecutionContext, steps []Step) (*ParallelExecutionResult, error) {
	start := time.Now()

	byNumber := make(map[int]*Step, len(steps))
	refs := make([]graph.StepRef, 0, len(steps))
	for i := range steps {
		step := &steps[i]
		byNumber[step.Number] = step
		refs = append(refs, graph.StepRef{
			Number:         step.Number,
			Name:           step.Name,
			OutputVariable: step.OutputVariable,
			Expressions:    step.Expressions(),
		})
	}

	dag, err := graph.Build(refs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidWorkflow, err)
	}

	waves := dag.ExecutionOrder()
	if !e.enableParallel {
		waves = sequentialWaves(len(steps))
	}

	execCtx.total = len(steps)
	results := make(map[int]*StepResult, len(steps))
	var cancelledAt *int

	for waveIndex, wave := range waves {
		if execCtx.Cancelled() || ctx.Err() != nil {
			e.markSkipped(execCtx, byNumber, wave, results)
			continue
		}
		e.emit(execCtx, streaming.EventWaveStarted, map[string]interface{}{
			"wave":  waveIndex,
			"steps": wave,
		})

		waveResults := e.runWave(ctx, execCtx, byNumber, wave)

		// Merge in step-number order, post-join, so no concurrent step saw a
		// partial sibling output.
		for _, number := range wave {
			result := waveResults[number]
			results[number] = result
			step := byNumber[number]
			switch result.Status {
			case StatusCompleted:
				execCtx.recordOutput(step.Number, step.OutputVariable, result.OutputData)
				execCtx.completed++
			case StatusFailed:
				if step.ErrorHandling.Mode() == OnErrorFail && cancelledAt == nil {
					n := number
					cancelledAt = &n
					execCtx.Cancel()
				}
			}
			if e.stepHook != nil {
				e.stepHook(*result, execCtx.Snapshot())
			}
			completed, total := execCtx.Progress()
			e.emit(execCtx, streaming.EventProgressUpdate, map[string]interface{}{
				"completed": completed,
				"total":     total,
			})
		}
	}

	out := &ParallelExecutionResult{
		Context:         execCtx,
		TotalTimeMs:     time.Since(start).Milliseconds(),
		ParallelSpeedup: e.speedup(dag, len(steps)),
		CancelledAtStep: cancelledAt,
	}
	for _, number := range sortedKeys(results) {
		out.StepResults = append(out.StepResults, *results[number])
	}
	switch {
	case cancelledAt != nil:
		out.Status = ExecutionFailed
		out.ErrorMessage = results[*cancelledAt].ErrorMessage
	case execCtx.Cancelled() || ctx.Err() != nil:
		out.Status = ExecutionCancelled
	default:
		out.Status = ExecutionCompleted
	}
	return out, nil
}

// runWave executes one wave. A wave of size one runs inline.
func (e *ParallelExecutor) runWave(ctx context.Context, execCtx *ExecutionContext, byNumber map[int]*Step, wave []int) map[int]*StepResult {
	results := make(map[int]*StepResult, len(wave))
	if len(wave) == 1 {
		step := byNumber[wave[0]]
		results[wave[0]] = e.runStep(ctx, execCtx, step)
		return results
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, number := range wave {
		step := byNumber[number]
		wg.Add(1)
		go func(step *Step) {
			defer wg.Done()
			result := e.runStep(ctx, execCtx, step)
			mu.Lock()
			results[step.Number] = result
			mu.Unlock()
		}(step)
	}
	wg.Wait()
	return results
}

// runStep drives one step through its gate, input resolution, validation,
// and the retry-wrapped timeout-bounded executor call.
func (e *ParallelExecutor) runStep(ctx context.Context, execCtx *ExecutionContext, step *Step) *StepResult {
	result := &StepResult{
		StepNumber: step.Number,
		StepName:   step.Name,
		StartedAt:  time.Now().UTC(),
	}
	defer func() { result.CompletedAt = time.Now().UTC() }()

	if execCtx.Cancelled() || ctx.Err() != nil {
		result.Status = StatusSkipped
		e.emitStep(execCtx, streaming.EventStepSkipped, step, map[string]interface{}{"reason": "cancelled"})
		return result
	}

	scope := execCtx.Snapshot()

	// Gate. Errors are treated as false with a log event; the step is skipped.
	if step.Condition != "" {
		pass, err := condition.Evaluate(step.Condition, scope)
		if err != nil {
			e.emit(execCtx, streaming.EventLog, map[string]interface{}{
				"step":    step.Number,
				"message": fmt.Sprintf("condition error treated as false: %v", err),
			})
			pass = false
		}
		if !pass {
			result.Status = StatusSkipped
			e.emitStep(execCtx, streaming.EventStepSkipped, step, map[string]interface{}{"reason": "condition"})
			return result
		}
	}

	e.emitStep(execCtx, streaming.EventStepStarted, step, nil)

	input, err := condition.ResolveMapping(step.InputMapping, scope)
	if err != nil {
		return e.settleFailure(execCtx, step, result, fmt.Sprintf("input mapping: %v", err))
	}

	if step.InputSchema != nil {
		validation := schema.Validate(input, step.InputSchema, schema.Strict)
		if !validation.Valid {
			return e.settleFailure(execCtx, step, result, validationMessage("input", validation))
		}
	}

	exec, err := e.registry.Lookup(step.Kind)
	if err != nil {
		return e.settleFailure(execCtx, step, result, err.Error())
	}

	retryCfg := step.ErrorHandling.retryConfig()
	timeoutCfg := &resilience.TimeoutConfig{
		Op:       step.Name,
		Timeout:  step.ErrorHandling.timeout(),
		Strategy: resilience.StrategyFail,
	}
	attempt := 0
	value, meta, err := resilience.Retry(ctx, &retryCfg, func(attemptCtx context.Context) (interface{}, error) {
		if attempt > 0 {
			e.emitStep(execCtx, streaming.EventStepRetrying, step, map[string]interface{}{"attempt": attempt})
		}
		attempt++
		res := resilience.RunWithTimeout(attemptCtx, timeoutCfg, func(opCtx context.Context) (interface{}, error) {
			return exec.Execute(opCtx, step, input)
		})
		return res.Value, res.Err
	})
	result.RetryMetadata = meta

	if err != nil {
		if core.IsCancellation(err) {
			result.Status = StatusSkipped
			e.emitStep(execCtx, streaming.EventStepSkipped, step, map[string]interface{}{"reason": "cancelled"})
			return result
		}
		return e.settleFailure(execCtx, step, result, err.Error())
	}

	if step.OutputSchema != nil {
		validation := schema.Validate(value, step.OutputSchema, schema.Lax)
		if !validation.Valid {
			return e.settleFailure(execCtx, step, result, validationMessage("output", validation))
		}
		for _, issue := range validation.Issues {
			e.logger.Warn("Step output validation warning", map[string]interface{}{
				"step":    step.Number,
				"path":    issue.Path,
				"message": issue.Message,
			})
		}
	}

	result.Status = StatusCompleted
	result.OutputData = value
	e.emitStep(execCtx, streaming.EventStepCompleted, step, map[string]interface{}{
		"output_variable": step.OutputVariable,
	})
	return result
}

// settleFailure applies the step's error policy to a failed attempt chain.
// Fallback substitutes the configured value and reports completed.
func (e *ParallelExecutor) settleFailure(execCtx *ExecutionContext, step *Step, result *StepResult, message string) *StepResult {
	if step.ErrorHandling.Mode() == OnErrorFallback && step.ErrorHandling.FallbackValue != nil {
		result.Status = StatusCompleted
		result.OutputData = step.ErrorHandling.FallbackValue
		result.ErrorMessage = message
		e.emitStep(execCtx, streaming.EventStepCompleted, step, map[string]interface{}{
			"output_variable": step.OutputVariable,
			"fallback":        true,
		})
		return result
	}
	result.Status = StatusFailed
	result.ErrorMessage = message
	e.logger.Error("Step failed", map[string]interface{}{
		"execution_id": execCtx.ExecutionID,
		"step":         step.Number,
		"step_name":    step.Name,
		"error":        message,
	})
	e.emitStep(execCtx, streaming.EventStepFailed, step, map[string]interface{}{"error": message})
	return result
}

// markSkipped records skipped results for a wave that never launched.
func (e *ParallelExecutor) markSkipped(execCtx *ExecutionContext, byNumber map[int]*Step, wave []int, results map[int]*StepResult) {
	now := time.Now().UTC()
	for _, number := range wave {
		step := byNumber[number]
		results[number] = &StepResult{
			StepNumber:  number,
			StepName:    step.Name,
			Status:      StatusSkipped,
			StartedAt:   now,
			CompletedAt: now,
		}
		e.emitStep(execCtx, streaming.EventStepSkipped, step, map[string]interface{}{"reason": "cancelled"})
	}
}

func (e *ParallelExecutor) speedup(dag *graph.DependencyGraph, totalSteps int) float64 {
	if !e.enableParallel || totalSteps == 0 {
		return 1.0
	}
	cpLen := len(dag.CriticalPath())
	if cpLen == 0 {
		return 1.0
	}
	// Cosmetic estimate: theoretical wave speedup discounted by a fixed
	// efficiency, offset so a sequential chain reports 1.0.
	return float64(totalSteps)/float64(cpLen)*speedupEfficiency + (1 - speedupEfficiency)
}

func (e *ParallelExecutor) emit(execCtx *ExecutionContext, eventType streaming.EventType, data map[string]interface{}) {
	if e.publisher == nil {
		return
	}
	// Event delivery is best effort and must never fail the run.
	_ = e.publisher.Publish(streaming.NewEvent(eventType, execCtx.ExecutionID, data))
}

func (e *ParallelExecutor) emitStep(execCtx *ExecutionContext, eventType streaming.EventType, step *Step, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["step"] = step.Number
	data["step_name"] = step.Name
	e.emit(execCtx, eventType, data)
}

func sequentialWaves(n int) [][]int {
	waves := make([][]int, n)
	for i := 1; i <= n; i++ {
		waves[i-1] = []int{i}
	}
	return waves
}

func sortedKeys(m map[int]*StepResult) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func validationMessage(which string, result schema.ValidationResult) string {
	for _, issue := range result.Issues {
		if issue.Severity == schema.SeverityError {
			return fmt.Sprintf("%s validation failed at %s: %s", which, issue.Path, issue.Message)
		}
	}
	return fmt.Sprintf("%s validation failed", which)
}

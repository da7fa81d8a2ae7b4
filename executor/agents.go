package executor

import (
	"context"
	"sync"
	"time"

	"github.com/structa/flowgate/core"
	"github.com/structa/flowgate/resilience"
)

// AgentTask is one independent analysis task. Tasks have no mutual
// dependencies and all run concurrently.
type AgentTask struct {
	Name    string
	Timeout time.Duration
	Run     resilience.Operation
}

// AgentResult is the isolated outcome of one task.
type AgentResult struct {
	Name     string        `json:"name"`
	Output   interface{}   `json:"output,omitempty"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// AgentRunSummary reports the fan-out outcome. Success means every task
// succeeded; PartialSuccess means at least one did.
type AgentRunSummary struct {
	Results        []AgentResult `json:"results"`
	Success        bool          `json:"success"`
	PartialSuccess bool          `json:"partial_success"`
	TotalTime      time.Duration `json:"total_time"`
}

// AgentOrchestrator fans independent tasks out in parallel with per-task
// timeouts and error isolation. Used by the review entry points, where the
// analyzers do not feed each other.
type AgentOrchestrator struct {
	logger core.Logger
}

// NewAgentOrchestrator creates an orchestrator. A nil logger defaults to
// no-op.
func NewAgentOrchestrator(logger core.Logger) *AgentOrchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AgentOrchestrator{logger: logger}
}

// RunAll executes every task concurrently and waits for all of them. A
// task failure or timeout never affects its siblings. Results keep the
// task submission order.
func (o *AgentOrchestrator) RunAll(ctx context.Context, tasks []AgentTask) AgentRunSummary {
	start := time.Now()
	results := make([]AgentResult, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task AgentTask) {
			defer wg.Done()
			results[i] = o.runOne(ctx, task)
		}(i, task)
	}
	wg.Wait()

	summary := AgentRunSummary{
		Results:   results,
		Success:   len(tasks) > 0,
		TotalTime: time.Since(start),
	}
	for _, result := range results {
		if result.Err == nil {
			summary.PartialSuccess = true
		} else {
			summary.Success = false
		}
	}
	return summary
}

func (o *AgentOrchestrator) runOne(ctx context.Context, task AgentTask) AgentResult {
	start := time.Now()
	result := AgentResult{Name: task.Name}

	// A panicking analyzer fails its own slot only.
	guarded := func(ctx context.Context) (out interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("Agent task panicked", map[string]interface{}{
					"task":  task.Name,
					"panic": r,
				})
				err = &core.RuntimeError{
					Op:      "agent." + task.Name,
					Kind:    "panic",
					Message: "agent task panicked",
				}
			}
		}()
		return task.Run(ctx)
	}

	res := resilience.RunWithTimeout(ctx, &resilience.TimeoutConfig{
		Op:       task.Name,
		Timeout:  task.Timeout,
		Strategy: resilience.StrategyFail,
	}, guarded)
	result.Duration = time.Since(start)

	if res.Err != nil {
		result.Err = res.Err
		result.Error = res.Err.Error()
		o.logger.Warn("Agent task failed", map[string]interface{}{
			"task":  task.Name,
			"error": res.Err.Error(),
		})
		return result
	}
	result.Output = res.Value
	return result
}

package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/structa/flowgate/audit"
	"github.com/structa/flowgate/condition"
	"github.com/structa/flowgate/core"
	"github.com/structa/flowgate/executor"
	"github.com/structa/flowgate/risk"
	"github.com/structa/flowgate/schema"
	"github.com/structa/flowgate/streaming"
)

// ExecutionResult is what executing a workflow returns to the caller.
type ExecutionResult struct {
	ExecutionID      string                   `json:"execution_id"`
	Status           executor.ExecutionStatus `json:"status"`
	Output           map[string]interface{}   `json:"output,omitempty"`
	RoutingDecision  risk.Decision            `json:"routing_decision"`
	RequiresHitl     bool                     `json:"requires_hitl"`
	EscalationLevel  *int                     `json:"escalation_level,omitempty"`
	StepResults      []executor.StepResult    `json:"step_results"`
	Summary          string                   `json:"summary"`
	ProcessingTimeMs int64                    `json:"processing_time_ms"`
}

// Orchestrator is the top-level request handler.
type Orchestrator struct {
	catalog  WorkflowCatalog
	rules    RiskRulesStore
	registry *executor.Registry
	sink     audit.Sink
	streams  *streaming.Registry
	engine   *risk.Engine
	logger   core.Logger
	tracer   trace.Tracer
	mirror   executor.Publisher

	// ShortCircuitOnRequireHitl additionally stops a run before step
	// execution when the global evaluation asks for HITL, not just on
	// block.
	shortCircuitOnRequireHitl bool
	sequential                bool

	mu     sync.Mutex
	active map[string]*executor.ExecutionContext
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithAuditSink sets the audit sink. Defaults to an in-memory sink.
func WithAuditSink(sink audit.Sink) OrchestratorOption {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger core.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStreamRegistry sets the stream registry. Defaults to a fresh one.
func WithStreamRegistry(streams *streaming.Registry) OrchestratorOption {
	return func(o *Orchestrator) {
		if streams != nil {
			o.streams = streams
		}
	}
}

// WithEventMirror mirrors every execution event onto an external publisher,
// such as a NATS connection, in addition to the in-process stream.
func WithEventMirror(mirror executor.Publisher) OrchestratorOption {
	return func(o *Orchestrator) { o.mirror = mirror }
}

// WithShortCircuitOnRequireHitl stops runs before step execution when the
// global rules already demand human review, not only on block.
func WithShortCircuitOnRequireHitl() OrchestratorOption {
	return func(o *Orchestrator) { o.shortCircuitOnRequireHitl = true }
}

// WithSequentialExecution disables wave parallelism for debugging.
func WithSequentialExecution() OrchestratorOption {
	return func(o *Orchestrator) { o.sequential = true }
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(catalog WorkflowCatalog, rules RiskRulesStore, registry *executor.Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		catalog:  catalog,
		rules:    rules,
		registry: registry,
		sink:     audit.NewMemorySink(),
		logger:   &core.NoOpLogger{},
		tracer:   otel.Tracer("flowgate/orchestration"),
		active:   make(map[string]*executor.ExecutionContext),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.streams == nil {
		o.streams = streaming.NewRegistry(streaming.WithRegistryLogger(o.logger))
	}
	o.engine = risk.NewEngine(o.logger)
	return o
}

// Streams exposes the stream registry, for transports serving StreamEvents.
func (o *Orchestrator) Streams() *streaming.Registry { return o.streams }

// ExecuteWorkflow runs one workflow end to end and returns its output and
// routing decision. Assessment may be nil.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, schemaKey, version string, input, meta map[string]interface{}, assessment *risk.Assessment) (*ExecutionResult, error) {
	start := time.Now()
	executionID := uuid.NewString()

	ctx, span := o.tracer.Start(ctx, "orchestration.execute_workflow",
		trace.WithAttributes(
			attribute.String("workflow.schema_key", schemaKey),
			attribute.String("workflow.version", version),
			attribute.String("execution.id", executionID),
		))
	defer span.End()

	def, err := o.catalog.Load(ctx, schemaKey, version)
	if err != nil {
		return nil, err
	}
	rulesCfg, err := o.loadRules(ctx, def)
	if err != nil {
		return nil, err
	}

	if def.InputSchema != nil {
		validation := schema.Validate(input, def.InputSchema, schema.Strict)
		if !validation.Valid {
			return nil, fmt.Errorf("%w: %s", core.ErrInvalidConfiguration, firstError(validation))
		}
	}

	execCtx := executor.NewExecutionContext(executionID, input, meta, len(def.Steps))
	o.track(executionID, execCtx)
	defer o.untrack(executionID)

	// Pre-execution global gate.
	globalEval := o.engine.EvaluateGlobal(rulesCfg, o.ruleScope(execCtx, assessment))
	o.persistStepEvaluation(ctx, executionID, globalEval)
	span.AddEvent("global_rules_evaluated", trace.WithAttributes(
		attribute.Int("rules.triggered", globalEval.RulesTriggered),
		attribute.String("rules.decision", string(globalEval.Decision)),
	))
	if o.shouldShortCircuit(globalEval) {
		result := &ExecutionResult{
			ExecutionID:      executionID,
			Status:           executor.ExecutionFailed,
			RoutingDecision:  risk.DecisionBlock,
			RequiresHitl:     true,
			Summary:          fmt.Sprintf("blocked by global rules before execution (%s)", globalEval.HighestAction),
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		}
		o.persistRouting(ctx, executionID, def.SchemaKey, result, globalEval.AggregateRiskFactor, execCtx)
		return result, nil
	}

	stream := o.streams.Open(executionID)
	o.publish(stream, streaming.NewEvent(streaming.EventExecutionStarted, executionID, map[string]interface{}{
		"schema_key": schemaKey,
		"version":    version,
		"steps":      len(def.Steps),
	}))

	var (
		evalMu      sync.Mutex
		stepEvals   []risk.StepEvaluation
		stepResults []risk.StepResult
	)
	exec := o.buildExecutor(stream, func(result executor.StepResult, scope *condition.Scope) {
		if result.Status != executor.StatusCompleted {
			return
		}
		if assessment != nil {
			scope.Assessment = assessment.Scope()
		}
		eval := o.engine.EvaluateStepRules(rulesCfg, result.StepNumber, result.StepName, scope)
		o.persistStepEvaluation(ctx, executionID, eval)
		o.publish(stream, streaming.NewEvent(streaming.EventRiskDecision, executionID, map[string]interface{}{
			"step":      result.StepNumber,
			"step_name": result.StepName,
			"decision":  string(eval.Decision),
			"triggered": eval.RulesTriggered,
		}))
		evalMu.Lock()
		stepEvals = append(stepEvals, eval)
		stepResults = append(stepResults, risk.StepResult{
			StepNumber: result.StepNumber,
			StepName:   result.StepName,
			Output:     result.OutputData,
		})
		evalMu.Unlock()
	})

	runResult, err := exec.Execute(ctx, execCtx, def.Steps)
	if err != nil {
		o.publish(stream, streaming.NewEvent(streaming.EventExecutionFailed, executionID, map[string]interface{}{
			"error": err.Error(),
		}))
		o.streams.MarkClosed(executionID)
		return nil, err
	}
	span.AddEvent("steps_executed", trace.WithAttributes(
		attribute.String("execution.status", string(runResult.Status)),
		attribute.Float64("execution.speedup", runResult.ParallelSpeedup),
	))

	// End-of-run decision over the full context.
	workflowEval := o.engine.EvaluateWorkflow(executionID, rulesCfg, o.ruleScope(execCtx, assessment), stepResults, 0)
	o.persistWorkflowEvaluation(ctx, executionID, &workflowEval)

	output := execCtx.Snapshot().Steps
	if def.OutputSchema != nil {
		validation := schema.Validate(output, def.OutputSchema, schema.Lax)
		for _, issue := range validation.Issues {
			o.logger.Warn("Workflow output validation issue", map[string]interface{}{
				"execution_id": executionID,
				"path":         issue.Path,
				"message":      issue.Message,
			})
		}
	}

	result := &ExecutionResult{
		ExecutionID:      executionID,
		Status:           runResult.Status,
		Output:           output,
		RoutingDecision:  workflowEval.FinalDecision,
		RequiresHitl:     workflowEval.RequiresHitl,
		EscalationLevel:  workflowEval.EscalationLevel,
		StepResults:      runResult.StepResults,
		Summary:          workflowEval.SummaryMessage,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	o.persistRouting(ctx, executionID, def.SchemaKey, result, workflowEval.FinalRiskScore, execCtx)

	terminal := streaming.EventExecutionCompleted
	if runResult.Status != executor.ExecutionCompleted {
		terminal = streaming.EventExecutionFailed
	}
	o.publish(stream, streaming.NewEvent(terminal, executionID, map[string]interface{}{
		"status":           string(runResult.Status),
		"routing_decision": string(workflowEval.FinalDecision),
		"requires_hitl":    workflowEval.RequiresHitl,
	}))
	o.streams.MarkClosed(executionID)

	o.logger.Info("Workflow execution finished", map[string]interface{}{
		"execution_id": executionID,
		"schema_key":   schemaKey,
		"status":       string(result.Status),
		"decision":     string(result.RoutingDecision),
		"time_ms":      result.ProcessingTimeMs,
	})
	return result, nil
}

// ActiveExecutions lists the IDs of executions currently running.
func (o *Orchestrator) ActiveExecutions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

// CancelExecution requests cancellation of a running execution. Idempotent:
// cancelling twice, or after completion, is a no-op.
func (o *Orchestrator) CancelExecution(executionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	execCtx, ok := o.active[executionID]
	if !ok {
		return fmt.Errorf("execution %s: %w", executionID, core.ErrExecutionNotFound)
	}
	execCtx.Cancel()
	o.logger.Info("Execution cancellation requested", map[string]interface{}{
		"execution_id": executionID,
	})
	return nil
}

// StreamEvents subscribes to an execution's event stream, replaying any
// buffered history first. The cancel function releases the subscription.
func (o *Orchestrator) StreamEvents(executionID string) (<-chan streaming.Event, func(), error) {
	stream, err := o.streams.Get(executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("execution %s: %w", executionID, err)
	}
	ch, cancel := stream.Subscribe()
	return ch, cancel, nil
}

func (o *Orchestrator) buildExecutor(stream *streaming.Stream, hook executor.StepHook) *executor.ParallelExecutor {
	var publisher executor.Publisher = stream
	if o.mirror != nil {
		publisher = multiPublisher{stream, o.mirror}
	}
	opts := []executor.Option{
		executor.WithLogger(o.logger),
		executor.WithPublisher(publisher),
		executor.WithStepHook(hook),
	}
	if o.sequential {
		opts = append(opts, executor.WithSequentialMode())
	}
	return executor.NewParallelExecutor(o.registry, opts...)
}

// loadRules resolves the rules document: inline rules win, then the store,
// then an empty document (no gating).
func (o *Orchestrator) loadRules(ctx context.Context, def *WorkflowDefinition) (*risk.Config, error) {
	if def.RiskRules != nil {
		return def.RiskRules, nil
	}
	if o.rules == nil {
		return &risk.Config{SchemaKey: def.SchemaKey}, nil
	}
	cfg, err := o.rules.Load(ctx, def.SchemaKey)
	if err != nil {
		if core.IsNotFound(err) {
			return &risk.Config{SchemaKey: def.SchemaKey}, nil
		}
		return nil, err
	}
	return cfg, nil
}

func (o *Orchestrator) shouldShortCircuit(eval risk.StepEvaluation) bool {
	if eval.HighestAction == risk.ActionBlock {
		return true
	}
	return o.shortCircuitOnRequireHitl && eval.HighestAction == risk.ActionRequireHitl
}

func (o *Orchestrator) ruleScope(execCtx *executor.ExecutionContext, assessment *risk.Assessment) *condition.Scope {
	scope := execCtx.Snapshot()
	if assessment != nil {
		scope.Assessment = assessment.Scope()
	}
	return scope
}

func (o *Orchestrator) track(executionID string, execCtx *executor.ExecutionContext) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[executionID] = execCtx
}

func (o *Orchestrator) untrack(executionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, executionID)
}

func (o *Orchestrator) publish(stream *streaming.Stream, event streaming.Event) {
	// Event delivery is best effort.
	_ = stream.Publish(event)
	if o.mirror != nil {
		_ = o.mirror.Publish(event)
	}
}

// multiPublisher fans one event out to every target. All targets are
// attempted; the first error is returned.
type multiPublisher []executor.Publisher

func (m multiPublisher) Publish(event streaming.Event) error {
	var firstErr error
	for _, p := range m {
		if err := p.Publish(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// persistStepEvaluation writes one evaluation's rule records. Audit
// failures are logged and swallowed.
func (o *Orchestrator) persistStepEvaluation(ctx context.Context, executionID string, eval risk.StepEvaluation) {
	for _, record := range eval.Evaluations {
		err := o.sink.LogRuleEvaluation(ctx, audit.RuleEvaluationRecord{
			ExecutionID:     executionID,
			RuleID:          record.RuleID,
			RuleType:        record.RuleType,
			StepName:        record.StepName,
			Condition:       record.Condition,
			ConditionResult: record.ConditionResult,
			RiskFactor:      record.CalculatedRiskFactor,
			Action:          string(record.TriggeredAction),
			Message:         firstNonEmpty(record.Message, record.Error),
		})
		if err != nil {
			o.logger.Warn("Failed to persist rule evaluation", map[string]interface{}{
				"execution_id": executionID,
				"rule_id":      record.RuleID,
				"error":        err.Error(),
			})
		}
		if err := o.sink.UpdateRuleEffectiveness(ctx, record.RuleID, record.ConditionResult); err != nil {
			o.logger.Warn("Failed to update rule effectiveness", map[string]interface{}{
				"rule_id": record.RuleID,
				"error":   err.Error(),
			})
		}
	}
}

func (o *Orchestrator) persistWorkflowEvaluation(ctx context.Context, executionID string, eval *risk.WorkflowEvaluation) {
	// The global re-run and per-step breakdowns were already persisted as
	// they happened; record the exception and escalation outcomes here.
	for _, record := range append(eval.Exception.Triggered, eval.Escalation.Triggered...) {
		err := o.sink.LogRuleEvaluation(ctx, audit.RuleEvaluationRecord{
			ExecutionID:     executionID,
			RuleID:          record.RuleID,
			RuleType:        record.RuleType,
			Condition:       record.Condition,
			ConditionResult: record.ConditionResult,
			Message:         record.Message,
		})
		if err != nil {
			o.logger.Warn("Failed to persist rule evaluation", map[string]interface{}{
				"execution_id": executionID,
				"rule_id":      record.RuleID,
				"error":        err.Error(),
			})
		}
	}
}

func (o *Orchestrator) persistRouting(ctx context.Context, executionID, schemaKey string, result *ExecutionResult, riskScore float64, execCtx *executor.ExecutionContext) {
	err := o.sink.LogRoutingDecision(ctx, audit.RoutingRecord{
		ExecutionID:     executionID,
		SchemaKey:       schemaKey,
		Decision:        string(result.RoutingDecision),
		RiskScore:       riskScore,
		RequiresHitl:    result.RequiresHitl,
		EscalationLevel: result.EscalationLevel,
		Summary:         result.Summary,
		Context: map[string]interface{}{
			"input": execCtx.Input,
			"steps": execCtx.Steps,
		},
	})
	if err != nil {
		o.logger.Warn("Failed to persist routing decision", map[string]interface{}{
			"execution_id": executionID,
			"error":        err.Error(),
		})
	}
}

func firstError(result schema.ValidationResult) string {
	for _, issue := range result.Issues {
		if issue.Severity == schema.SeverityError {
			return fmt.Sprintf("%s: %s", issue.Path, issue.Message)
		}
	}
	return "validation failed"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

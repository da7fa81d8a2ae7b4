package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/structa/flowgate/condition"
	"github.com/structa/flowgate/core"
)

// Assessment is the caller-supplied six-axis risk vector, exposed to rule
// conditions as $assessment.<axis>.
type Assessment struct {
	SafetyRisk     float64 `json:"safety_risk"`
	TechnicalRisk  float64 `json:"technical_risk"`
	ComplianceRisk float64 `json:"compliance_risk"`
	FinancialRisk  float64 `json:"financial_risk"`
	ExecutionRisk  float64 `json:"execution_risk"`
	AnomalyRisk    float64 `json:"anomaly_risk"`
}

// Scope renders the assessment as condition-resolvable values.
func (a *Assessment) Scope() map[string]interface{} {
	if a == nil {
		return nil
	}
	return map[string]interface{}{
		"safety_risk":     a.SafetyRisk,
		"technical_risk":  a.TechnicalRisk,
		"compliance_risk": a.ComplianceRisk,
		"financial_risk":  a.FinancialRisk,
		"execution_risk":  a.ExecutionRisk,
		"anomaly_risk":    a.AnomalyRisk,
	}
}

// RuleEvaluation records one rule condition evaluation attempt. Evaluation
// failures are recorded with ConditionResult=false, never raised.
type RuleEvaluation struct {
	RuleID               string   `json:"rule_id"`
	RuleType             string   `json:"rule_type"`
	StepName             string   `json:"step_name,omitempty"`
	Condition            string   `json:"condition"`
	ConditionResult      bool     `json:"condition_result"`
	CalculatedRiskFactor *float64 `json:"calculated_risk_factor,omitempty"`
	TriggeredAction      Action   `json:"triggered_action,omitempty"`
	Message              string   `json:"message,omitempty"`
	Error                string   `json:"error,omitempty"`
	EvaluationTimeMs     int64    `json:"evaluation_time_ms"`
}

// StepEvaluation aggregates the rule evaluations for one step (or the
// synthetic "global" step, number 0).
type StepEvaluation struct {
	StepNumber          int              `json:"step_number"`
	StepName            string           `json:"step_name"`
	RulesEvaluated      int              `json:"rules_evaluated"`
	RulesTriggered      int              `json:"rules_triggered"`
	AggregateRiskFactor float64          `json:"aggregate_risk_factor"`
	HighestAction       Action           `json:"highest_action,omitempty"`
	Decision            Decision         `json:"decision"`
	Evaluations         []RuleEvaluation `json:"evaluations"`
}

// ExceptionOutcome is the result of evaluating the exception rules against
// a risk score.
type ExceptionOutcome struct {
	CanAutoApprove  bool             `json:"can_auto_approve"`
	MaxRiskOverride float64          `json:"max_risk_override"`
	Triggered       []RuleEvaluation `json:"triggered"`
}

// EscalationOutcome is the result of evaluating the escalation rules.
// Level is nil when nothing triggered.
type EscalationOutcome struct {
	Level     *int             `json:"level,omitempty"`
	Triggered []RuleEvaluation `json:"triggered"`
}

// WorkflowEvaluation is the end-of-run decision with its full breakdown.
type WorkflowEvaluation struct {
	ExecutionID     string            `json:"execution_id"`
	Global          StepEvaluation    `json:"global"`
	Steps           []StepEvaluation  `json:"steps"`
	Exception       ExceptionOutcome  `json:"exception"`
	Escalation      EscalationOutcome `json:"escalation"`
	FinalRiskScore  float64           `json:"final_risk_score"`
	FinalDecision   Decision          `json:"final_decision"`
	RequiresHitl    bool              `json:"requires_hitl"`
	EscalationLevel *int              `json:"escalation_level,omitempty"`
	SummaryMessage  string            `json:"summary_message"`
}

// StepResult is the minimal executor output the engine needs per step.
type StepResult struct {
	StepNumber int
	StepName   string
	Output     interface{}
}

// Engine evaluates rules documents. Stateless and safe for concurrent use.
type Engine struct {
	logger core.Logger
}

// NewEngine creates an engine. A nil logger defaults to no-op.
func NewEngine(logger core.Logger) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Engine{logger: logger}
}

// evalCondition runs one rule condition against the scope, recording
// outcome and timing. Errors surface only on the record.
func (e *Engine) evalCondition(ruleType, ruleID, stepName, expr string, scope *condition.Scope) RuleEvaluation {
	start := time.Now()
	record := RuleEvaluation{
		RuleID:    ruleID,
		RuleType:  ruleType,
		StepName:  stepName,
		Condition: expr,
	}
	result, err := condition.Evaluate(expr, scope)
	record.EvaluationTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		record.Error = err.Error()
		e.logger.Warn("Rule condition failed to evaluate", map[string]interface{}{
			"rule_id":   ruleID,
			"rule_type": ruleType,
			"error":     err.Error(),
		})
		return record
	}
	record.ConditionResult = result
	return record
}

// EvaluateGlobal runs every enabled global rule once against the input and
// context, aggregated as the synthetic step 0.
func (e *Engine) EvaluateGlobal(cfg *Config, scope *condition.Scope) StepEvaluation {
	out := StepEvaluation{StepNumber: 0, StepName: "global", Decision: DecisionContinue}
	for _, rule := range cfg.GlobalRules {
		if !rule.Enabled {
			continue
		}
		record := e.evalCondition("global", rule.RuleID, "", rule.Condition, scope)
		out.RulesEvaluated++
		if record.ConditionResult {
			factor := rule.RiskFactor
			record.CalculatedRiskFactor = &factor
			record.TriggeredAction = rule.ActionIfTriggered
			record.Message = rule.Message
			out.RulesTriggered++
			out.AggregateRiskFactor += factor
			if rule.ActionIfTriggered.Priority() > out.HighestAction.Priority() {
				out.HighestAction = rule.ActionIfTriggered
			}
		}
		out.Evaluations = append(out.Evaluations, record)
	}
	out.AggregateRiskFactor = math.Min(1.0, out.AggregateRiskFactor)
	if out.HighestAction != "" {
		out.Decision = decisionFor(out.HighestAction)
	}
	return out
}

// EvaluateStepRules runs the enabled step rules attached to stepName
// against a scope that already contains the step's output.
func (e *Engine) EvaluateStepRules(cfg *Config, stepNumber int, stepName string, scope *condition.Scope) StepEvaluation {
	out := StepEvaluation{StepNumber: stepNumber, StepName: stepName, Decision: DecisionContinue}
	for _, rule := range cfg.StepRulesFor(stepName) {
		record := e.evalCondition("step", rule.RuleID, stepName, rule.Condition, scope)
		out.RulesEvaluated++
		if record.ConditionResult {
			factor := rule.RiskFactor
			record.CalculatedRiskFactor = &factor
			record.TriggeredAction = rule.ActionIfTriggered
			record.Message = rule.Message
			out.RulesTriggered++
			out.AggregateRiskFactor += factor
			if rule.ActionIfTriggered.Priority() > out.HighestAction.Priority() {
				out.HighestAction = rule.ActionIfTriggered
			}
		}
		out.Evaluations = append(out.Evaluations, record)
	}
	out.AggregateRiskFactor = math.Min(1.0, out.AggregateRiskFactor)
	if out.HighestAction != "" {
		out.Decision = decisionFor(out.HighestAction)
	}
	return out
}

// EvaluateExceptionRules decides whether auto-approval applies at the given
// risk score. CanAutoApprove requires at least one triggered rule with the
// override flag, and the score must not exceed the highest override ceiling
// among triggered auto-approve rules.
func (e *Engine) EvaluateExceptionRules(cfg *Config, currentRiskScore float64, scope *condition.Scope) ExceptionOutcome {
	out := ExceptionOutcome{}
	for _, rule := range cfg.ExceptionRules {
		if !rule.Enabled {
			continue
		}
		record := e.evalCondition("exception", rule.RuleID, "", rule.Condition, scope)
		if !record.ConditionResult {
			continue
		}
		record.Message = rule.Message
		out.Triggered = append(out.Triggered, record)
		if rule.AutoApproveOverride {
			out.CanAutoApprove = true
			if rule.MaxRiskOverride > out.MaxRiskOverride {
				out.MaxRiskOverride = rule.MaxRiskOverride
			}
		}
	}
	if out.CanAutoApprove && currentRiskScore > out.MaxRiskOverride {
		out.CanAutoApprove = false
	}
	return out
}

// EvaluateEscalationRules returns the maximum escalation level among
// triggered enabled rules, or a nil level when none trigger.
func (e *Engine) EvaluateEscalationRules(cfg *Config, scope *condition.Scope) EscalationOutcome {
	out := EscalationOutcome{}
	for _, rule := range cfg.EscalationRules {
		if !rule.Enabled {
			continue
		}
		record := e.evalCondition("escalation", rule.RuleID, "", rule.Condition, scope)
		if !record.ConditionResult {
			continue
		}
		record.Message = rule.Message
		out.Triggered = append(out.Triggered, record)
		if out.Level == nil || rule.EscalationLevel > *out.Level {
			level := rule.EscalationLevel
			out.Level = &level
		}
	}
	return out
}

// EvaluateWorkflow produces the end-of-run routing decision. The scope must
// carry the input, context, final step outputs (by output variable), and
// the assessment if one was supplied.
func (e *Engine) EvaluateWorkflow(executionID string, cfg *Config, scope *condition.Scope, stepResults []StepResult, baseRiskScore float64) WorkflowEvaluation {
	out := WorkflowEvaluation{ExecutionID: executionID}

	out.Global = e.EvaluateGlobal(cfg, scope)
	combined := baseRiskScore + out.Global.AggregateRiskFactor
	highest := out.Global.HighestAction

	for _, step := range stepResults {
		eval := e.EvaluateStepRules(cfg, step.StepNumber, step.StepName, scope)
		combined += eval.AggregateRiskFactor
		if eval.HighestAction.Priority() > highest.Priority() {
			highest = eval.HighestAction
		}
		out.Steps = append(out.Steps, eval)
	}
	combined = math.Min(1.0, combined)
	out.FinalRiskScore = combined

	out.Exception = e.EvaluateExceptionRules(cfg, combined, scope)
	out.Escalation = e.EvaluateEscalationRules(cfg, scope)

	switch {
	case highest == ActionBlock:
		out.FinalDecision = DecisionBlock
		out.RequiresHitl = true
	case out.Escalation.Level != nil:
		out.FinalDecision = DecisionEscalate
		out.RequiresHitl = true
		out.EscalationLevel = out.Escalation.Level
	case highest == ActionRequireHitl || highest == ActionEscalate:
		out.FinalDecision = DecisionPause
		out.RequiresHitl = true
	case highest == ActionPause:
		out.FinalDecision = DecisionPause
		out.RequiresHitl = true
	case highest == ActionRequireReview:
		if out.Exception.CanAutoApprove {
			out.FinalDecision = DecisionApprove
		} else {
			out.FinalDecision = DecisionPause
			out.RequiresHitl = true
		}
	case out.Exception.CanAutoApprove:
		out.FinalDecision = DecisionApprove
	default:
		out.FinalDecision = DecisionContinue
	}

	out.SummaryMessage = e.summarize(&out, highest)
	e.logger.Info("Workflow risk evaluation complete", map[string]interface{}{
		"execution_id":  executionID,
		"decision":      string(out.FinalDecision),
		"risk_score":    out.FinalRiskScore,
		"requires_hitl": out.RequiresHitl,
	})
	return out
}

func (e *Engine) summarize(eval *WorkflowEvaluation, highest Action) string {
	triggered := eval.Global.RulesTriggered
	for _, step := range eval.Steps {
		triggered += step.RulesTriggered
	}
	msg := fmt.Sprintf("decision=%s risk=%.2f triggered=%d", eval.FinalDecision, eval.FinalRiskScore, triggered)
	if highest != "" {
		msg += fmt.Sprintf(" highest_action=%s", highest)
	}
	if eval.EscalationLevel != nil {
		msg += fmt.Sprintf(" escalation_level=%d", *eval.EscalationLevel)
	}
	return msg
}

// Package audit persists rule evaluations, routing decisions, and human
// review activity as an append-only trail keyed by execution ID.
package audit

import (
	"context"
	"time"
)

// RuleEvaluationRecord is one rule condition evaluation, with a sanitized
// snapshot of the context it ran against.
type RuleEvaluationRecord struct {
	ExecutionID     string                 `json:"execution_id"`
	RuleID          string                 `json:"rule_id"`
	RuleType        string                 `json:"rule_type"`
	StepName        string                 `json:"step_name,omitempty"`
	Condition       string                 `json:"condition"`
	ConditionResult bool                   `json:"condition_result"`
	RiskFactor      *float64               `json:"risk_factor,omitempty"`
	Action          string                 `json:"action,omitempty"`
	Message         string                 `json:"message,omitempty"`
	Context         map[string]interface{} `json:"context,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// RoutingRecord is one routing decision for an execution.
type RoutingRecord struct {
	ExecutionID     string                 `json:"execution_id"`
	SchemaKey       string                 `json:"schema_key"`
	Decision        string                 `json:"decision"`
	RiskScore       float64                `json:"risk_score"`
	RequiresHitl    bool                   `json:"requires_hitl"`
	EscalationLevel *int                   `json:"escalation_level,omitempty"`
	Summary         string                 `json:"summary"`
	Context         map[string]interface{} `json:"context,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// HumanDecisionRecord captures a reviewer's verdict on a paused execution.
type HumanDecisionRecord struct {
	ExecutionID string    `json:"execution_id"`
	Reviewer    string    `json:"reviewer"`
	Decision    string    `json:"decision"`
	Comment     string    `json:"comment,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// OverrideRecord captures a reviewer overriding the engine's decision.
type OverrideRecord struct {
	ExecutionID      string    `json:"execution_id"`
	Reviewer         string    `json:"reviewer"`
	OriginalDecision string    `json:"original_decision"`
	NewDecision      string    `json:"new_decision"`
	Reason           string    `json:"reason,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// RuleEffectiveness accumulates per-rule counters across executions.
type RuleEffectiveness struct {
	RuleID          string    `json:"rule_id"`
	TimesEvaluated  int       `json:"times_evaluated"`
	TimesTriggered  int       `json:"times_triggered"`
	TimesOverridden int       `json:"times_overridden"`
	LastTriggered   time.Time `json:"last_triggered,omitempty"`
}

// ReportFilter narrows a compliance report. Zero-value fields match all.
type ReportFilter struct {
	SchemaKey string
	Decision  string
}

// ComplianceReport summarises routing activity over a window.
type ComplianceReport struct {
	From           time.Time      `json:"from"`
	To             time.Time      `json:"to"`
	TotalDecisions int            `json:"total_decisions"`
	DecisionCounts map[string]int `json:"decision_counts"`
	HitlCount      int            `json:"hitl_count"`
	OverrideCount  int            `json:"override_count"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// Sink is the persistence port. Writes are best effort: callers log and
// swallow errors, the run's outcome is never affected.
type Sink interface {
	LogRuleEvaluation(ctx context.Context, record RuleEvaluationRecord) error
	LogRoutingDecision(ctx context.Context, record RoutingRecord) error
	UpdateRuleEffectiveness(ctx context.Context, ruleID string, triggered bool) error
	RecordHumanOverride(ctx context.Context, record OverrideRecord) error
	RecordHumanDecision(ctx context.Context, record HumanDecisionRecord) error

	AuditTrail(ctx context.Context, executionID string) ([]RuleEvaluationRecord, error)
	RoutingHistory(ctx context.Context, executionID string) ([]RoutingRecord, error)
	RuleEffectivenessSummary(ctx context.Context) (map[string]RuleEffectiveness, error)
	GenerateComplianceReport(ctx context.Context, from, to time.Time, filter *ReportFilter) (*ComplianceReport, error)
}

// Package risk evaluates a deliverable's risk rules document against
// execution state and produces routing decisions.
package risk

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Action is what a triggered global or step rule asks for.
type Action string

const (
	ActionAutoApprove   Action = "auto_approve"
	ActionContinue      Action = "continue"
	ActionWarn          Action = "warn"
	ActionRequireReview Action = "require_review"
	ActionPause         Action = "pause"
	ActionRequireHitl   Action = "require_hitl"
	ActionEscalate      Action = "escalate"
	ActionBlock         Action = "block"
)

// actionPriority is the fixed severity order used when combining triggered
// rules. Higher wins.
var actionPriority = map[Action]int{
	ActionAutoApprove:   0,
	ActionContinue:      1,
	ActionWarn:          2,
	ActionRequireReview: 3,
	ActionPause:         4,
	ActionRequireHitl:   5,
	ActionEscalate:      6,
	ActionBlock:         7,
}

// Priority returns the severity rank of the action, or -1 if unknown.
func (a Action) Priority() int {
	p, ok := actionPriority[a]
	if !ok {
		return -1
	}
	return p
}

// Decision is the routing outcome of an evaluation.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionContinue Decision = "continue"
	DecisionWarn     Decision = "warn"
	DecisionPause    Decision = "pause"
	DecisionEscalate Decision = "escalate"
	DecisionBlock    Decision = "block"
)

// decisionFor maps a triggered action to the per-call routing decision.
func decisionFor(action Action) Decision {
	switch action {
	case ActionAutoApprove:
		return DecisionApprove
	case ActionContinue:
		return DecisionContinue
	case ActionWarn:
		return DecisionWarn
	case ActionRequireReview, ActionPause, ActionRequireHitl:
		return DecisionPause
	case ActionEscalate:
		return DecisionEscalate
	case ActionBlock:
		return DecisionBlock
	default:
		return DecisionContinue
	}
}

// GlobalRule applies to the workflow input before and after execution.
type GlobalRule struct {
	RuleID            string  `json:"rule_id" yaml:"rule_id" validate:"required"`
	Condition         string  `json:"condition" yaml:"condition" validate:"required"`
	RiskFactor        float64 `json:"risk_factor" yaml:"risk_factor" validate:"gte=0,lte=1"`
	ActionIfTriggered Action  `json:"action_if_triggered" yaml:"action_if_triggered" validate:"required,oneof=auto_approve continue warn require_review pause require_hitl escalate block"`
	Message           string  `json:"message" yaml:"message"`
	Enabled           bool    `json:"enabled" yaml:"enabled"`
}

// StepRule applies to one named step's output.
type StepRule struct {
	StepName          string  `json:"step_name" yaml:"step_name" validate:"required"`
	RuleID            string  `json:"rule_id" yaml:"rule_id" validate:"required"`
	Condition         string  `json:"condition" yaml:"condition" validate:"required"`
	RiskFactor        float64 `json:"risk_factor" yaml:"risk_factor" validate:"gte=0,lte=1"`
	ActionIfTriggered Action  `json:"action_if_triggered" yaml:"action_if_triggered" validate:"required,oneof=auto_approve continue warn require_review pause require_hitl escalate block"`
	Message           string  `json:"message" yaml:"message"`
	Enabled           bool    `json:"enabled" yaml:"enabled"`
}

// ExceptionRule can grant auto-approval up to a risk ceiling.
type ExceptionRule struct {
	RuleID              string  `json:"rule_id" yaml:"rule_id" validate:"required"`
	Condition           string  `json:"condition" yaml:"condition" validate:"required"`
	AutoApproveOverride bool    `json:"auto_approve_override" yaml:"auto_approve_override"`
	MaxRiskOverride     float64 `json:"max_risk_override" yaml:"max_risk_override" validate:"gte=0,lte=1"`
	Message             string  `json:"message" yaml:"message"`
	Enabled             bool    `json:"enabled" yaml:"enabled"`
}

// EscalationRule routes matching executions to a human tier.
type EscalationRule struct {
	RuleID          string `json:"rule_id" yaml:"rule_id" validate:"required"`
	Condition       string `json:"condition" yaml:"condition" validate:"required"`
	EscalationLevel int    `json:"escalation_level" yaml:"escalation_level" validate:"gte=1,lte=5"`
	Message         string `json:"message" yaml:"message"`
	Enabled         bool   `json:"enabled" yaml:"enabled"`
}

// Config is the parsed risk rules document for one deliverable schema.
// SchemaKey is optional on the wire; stores that key documents by schema
// inject it after parsing.
type Config struct {
	SchemaKey       string           `json:"schema_key,omitempty" yaml:"schema_key,omitempty"`
	Version         int              `json:"version" yaml:"version"`
	GlobalRules     []GlobalRule     `json:"global_rules" yaml:"global_rules" validate:"dive"`
	StepRules       []StepRule       `json:"step_rules" yaml:"step_rules" validate:"dive"`
	ExceptionRules  []ExceptionRule  `json:"exception_rules" yaml:"exception_rules" validate:"dive"`
	EscalationRules []EscalationRule `json:"escalation_rules" yaml:"escalation_rules" validate:"dive"`
}

var validate = validator.New()

// ParseConfig decodes and validates a rules document. Duplicate rule IDs
// across all four lists are rejected.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse risk rules: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and rule ID uniqueness.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid risk rules for %q: %w", c.SchemaKey, err)
	}
	seen := make(map[string]bool)
	check := func(id string) error {
		if seen[id] {
			return fmt.Errorf("invalid risk rules for %q: duplicate rule id %q", c.SchemaKey, id)
		}
		seen[id] = true
		return nil
	}
	for _, r := range c.GlobalRules {
		if err := check(r.RuleID); err != nil {
			return err
		}
	}
	for _, r := range c.StepRules {
		if err := check(r.RuleID); err != nil {
			return err
		}
	}
	for _, r := range c.ExceptionRules {
		if err := check(r.RuleID); err != nil {
			return err
		}
	}
	for _, r := range c.EscalationRules {
		if err := check(r.RuleID); err != nil {
			return err
		}
	}
	return nil
}

// Marshal pretty-prints the document in its wire format.
func (c *Config) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// StepRulesFor returns the enabled step rules attached to a step name.
func (c *Config) StepRulesFor(stepName string) []StepRule {
	var out []StepRule
	for _, r := range c.StepRules {
		if r.Enabled && r.StepName == stepName {
			out = append(out, r)
		}
	}
	return out
}

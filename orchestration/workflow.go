// Package orchestration is the top-level request surface: it loads workflow
// definitions and risk rules, drives the parallel executor, gates the run
// through the risk engine, and persists the audit trail.
package orchestration

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/structa/flowgate/core"
	"github.com/structa/flowgate/executor"
	"github.com/structa/flowgate/risk"
)

// WorkflowDefinition describes one deliverable workflow. Immutable for a run.
type WorkflowDefinition struct {
	SchemaKey    string                 `json:"schema_key" yaml:"schema_key"`
	Version      string                 `json:"version" yaml:"version"`
	Steps        []executor.Step        `json:"steps" yaml:"steps"`
	RiskRules    *risk.Config           `json:"risk_rules,omitempty" yaml:"risk_rules,omitempty"`
	InputSchema  map[string]interface{} `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
}

// Validate checks the definition's own invariants. Graph-level checks
// (numbering, references, cycles) run when the executor builds the DAG.
func (d *WorkflowDefinition) Validate() error {
	if d.SchemaKey == "" {
		return fmt.Errorf("%w: schema_key is required", core.ErrInvalidWorkflow)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", core.ErrInvalidWorkflow)
	}
	for i := range d.Steps {
		step := &d.Steps[i]
		if step.Name == "" {
			return fmt.Errorf("%w: step %d has no name", core.ErrInvalidWorkflow, step.Number)
		}
		if step.Kind == "" {
			return fmt.Errorf("%w: step %q has no kind", core.ErrInvalidWorkflow, step.Name)
		}
		if step.OutputVariable == "" {
			return fmt.Errorf("%w: step %q has no output variable", core.ErrInvalidWorkflow, step.Name)
		}
		if !step.ErrorHandling.OnError.Valid() {
			return fmt.Errorf("%w: step %q has unknown on_error %q", core.ErrInvalidWorkflow, step.Name, step.ErrorHandling.OnError)
		}
	}
	if d.RiskRules != nil {
		if err := d.RiskRules.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseWorkflowJSON decodes and validates a JSON workflow document.
func ParseWorkflowJSON(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseWorkflowYAML decodes and validates a YAML workflow document.
func ParseWorkflowYAML(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

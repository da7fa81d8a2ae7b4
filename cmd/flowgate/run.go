package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/structa/flowgate/audit"
	"github.com/structa/flowgate/core"
	"github.com/structa/flowgate/executor"
	"github.com/structa/flowgate/orchestration"
	"github.com/structa/flowgate/risk"
	"github.com/structa/flowgate/steps"
	"github.com/structa/flowgate/streaming"
)

var (
	runInputFile  string
	runRulesFile  string
	runVersion    string
	runEndpoints  []string
	runLLMKinds   []string
	runStream     bool
	runSequential bool
	runAuditOut   string
	runNATSURL    string
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-file>",
	Short: "Execute a workflow definition against an input document",
	Long: `Run loads a workflow definition (YAML or JSON), executes it with the
given input, and prints the step results and routing decision.

Step kinds resolve to executors as follows: "calc" runs in-process
calculations; kinds named by --endpoint post to a remote service; kinds
named by --llm run chat completions (OPENAI_API_KEY).

Example:
  flowgate run press_release.yaml --input input.json --rules press_release.rules.json
  flowgate run review.yaml --input input.json --endpoint analyzer=http://localhost:8080/analyze --stream
`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVarP(&runInputFile, "input", "i", "", "JSON file with the workflow input")
	runCmd.Flags().StringVar(&runRulesFile, "rules", "", "JSON risk rules document")
	runCmd.Flags().StringVar(&runVersion, "version", "", "Workflow version to request (default: latest)")
	runCmd.Flags().StringArrayVar(&runEndpoints, "endpoint", nil, "Step kind to HTTP endpoint mapping, kind=url (repeatable)")
	runCmd.Flags().StringArrayVar(&runLLMKinds, "llm", nil, "Step kind served by a chat completion (repeatable)")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "Print execution events as NDJSON while running")
	runCmd.Flags().BoolVar(&runSequential, "sequential", false, "Disable wave parallelism")
	runCmd.Flags().StringVar(&runAuditOut, "audit-out", "", "Write the run's audit trail to a JSON file")
	runCmd.Flags().StringVar(&runNATSURL, "nats-url", "", "Mirror execution events to this NATS server")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	logger := core.NewSimpleLogger()
	logger.SetLevel(logLevel)

	def, err := loadWorkflow(args[0])
	if err != nil {
		return err
	}

	input := map[string]interface{}{}
	if runInputFile != "" {
		if err := readJSONFile(runInputFile, &input); err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	}

	catalog := orchestration.NewMemoryCatalog()
	if err := catalog.Register(def); err != nil {
		return err
	}

	rules := orchestration.NewMemoryRulesStore()
	if runRulesFile != "" {
		data, err := os.ReadFile(runRulesFile)
		if err != nil {
			return fmt.Errorf("read rules: %w", err)
		}
		cfg, err := risk.ParseConfig(data)
		if err != nil {
			return err
		}
		if cfg.SchemaKey == "" {
			cfg.SchemaKey = def.SchemaKey
		}
		if err := rules.Register(cfg); err != nil {
			return err
		}
	}

	registry, err := buildRegistry(logger)
	if err != nil {
		return err
	}

	sink := audit.NewMemorySink()
	opts := []orchestration.OrchestratorOption{
		orchestration.WithOrchestratorLogger(logger),
		orchestration.WithAuditSink(sink),
	}
	if runSequential {
		opts = append(opts, orchestration.WithSequentialExecution())
	}
	if runNATSURL != "" {
		conn, err := nats.Connect(runNATSURL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer conn.Drain()
		opts = append(opts, orchestration.WithEventMirror(
			streaming.NewNATSPublisher(conn, streaming.WithNATSLogger(logger))))
	}
	orch := orchestration.NewOrchestrator(catalog, rules, registry, opts...)
	defer orch.Streams().Stop()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := orch.ExecuteWorkflow(ctx, def.SchemaKey, runVersion, input, nil, nil)
	if err != nil {
		return err
	}

	if runStream {
		printEvents(orch, result.ExecutionID)
	}
	printResult(result)

	if runAuditOut != "" {
		if err := writeAuditExport(ctx, sink, result.ExecutionID, runAuditOut); err != nil {
			return fmt.Errorf("write audit export: %w", err)
		}
	}
	if result.Status != executor.ExecutionCompleted {
		os.Exit(2)
	}
	return nil
}

func loadWorkflow(path string) (*orchestration.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	if strings.HasSuffix(path, ".json") {
		return orchestration.ParseWorkflowJSON(data)
	}
	return orchestration.ParseWorkflowYAML(data)
}

func buildRegistry(logger core.Logger) (*executor.Registry, error) {
	registry := executor.NewRegistry()
	registry.Register(steps.NewCalcExecutor("calc"))
	for _, mapping := range runEndpoints {
		kind, url, ok := strings.Cut(mapping, "=")
		if !ok || kind == "" || url == "" {
			return nil, fmt.Errorf("invalid --endpoint %q, want kind=url", mapping)
		}
		registry.Register(steps.NewHTTPExecutor(kind, url, steps.WithHTTPLogger(logger)))
	}
	for _, kind := range runLLMKinds {
		registry.Register(steps.NewLLMExecutor(kind, steps.WithLLMLogger(logger)))
	}
	return registry, nil
}

// printEvents replays the finished run's event stream as NDJSON.
func printEvents(orch *orchestration.Orchestrator, executionID string) {
	ch, cancel, err := orch.StreamEvents(executionID)
	if err != nil {
		return
	}
	defer cancel()
	enc := json.NewEncoder(os.Stdout)
	for event := range ch {
		_ = enc.Encode(event)
	}
}

func printResult(result *orchestration.ExecutionResult) {
	fmt.Printf("execution: %s\n", result.ExecutionID)
	fmt.Printf("status:    %s\n", result.Status)
	fmt.Printf("routing:   %s (requires_hitl=%v)\n", result.RoutingDecision, result.RequiresHitl)
	if result.EscalationLevel != nil {
		fmt.Printf("escalated: level %d\n", *result.EscalationLevel)
	}
	fmt.Printf("summary:   %s\n", result.Summary)
	fmt.Printf("time:      %dms\n", result.ProcessingTimeMs)
	fmt.Println("steps:")
	for _, sr := range result.StepResults {
		line := fmt.Sprintf("  %2d  %-20s %s", sr.StepNumber, sr.StepName, sr.Status)
		if sr.ErrorMessage != "" {
			line += "  " + sr.ErrorMessage
		}
		fmt.Println(line)
	}
	if len(result.Output) > 0 {
		out, err := json.MarshalIndent(result.Output, "", "  ")
		if err == nil {
			fmt.Println("output:")
			fmt.Println(string(out))
		}
	}
}

// auditExport is the JSON document the run and replay commands share.
type auditExport struct {
	ExecutionID string                       `json:"execution_id"`
	Trail       []audit.RuleEvaluationRecord `json:"trail"`
	Routing     []audit.RoutingRecord        `json:"routing"`
}

func writeAuditExport(ctx context.Context, sink audit.Sink, executionID, path string) error {
	trail, err := sink.AuditTrail(ctx, executionID)
	if err != nil {
		return err
	}
	routing, err := sink.RoutingHistory(ctx, executionID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(auditExport{
		ExecutionID: executionID,
		Trail:       trail,
		Routing:     routing,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/structa/flowgate/audit"
)

var (
	replayFile     string
	replayRedisURL string
	replayJSON     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <execution-id>",
	Short: "Print the audit trail of a past execution",
	Long: `Replay prints every rule evaluation and routing decision recorded
for an execution, from a JSON audit export (--file, as written by
"run --audit-out") or from Redis (--redis-url or REDIS_URL).`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "", "JSON audit export to read instead of Redis")
	replayCmd.Flags().StringVar(&replayRedisURL, "redis-url", "", "Redis connection URL")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Print the raw records as JSON")
}

func runReplay(cmd *cobra.Command, args []string) error {
	executionID := args[0]
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		trail   []audit.RuleEvaluationRecord
		routing []audit.RoutingRecord
	)
	if replayFile != "" {
		var export auditExport
		if err := readJSONFile(replayFile, &export); err != nil {
			return fmt.Errorf("read audit export: %w", err)
		}
		if export.ExecutionID != executionID {
			return fmt.Errorf("export holds execution %s, not %s", export.ExecutionID, executionID)
		}
		trail, routing = export.Trail, export.Routing
	} else {
		var opts []audit.RedisSinkOption
		if replayRedisURL != "" {
			opts = append(opts, audit.WithRedisURL(replayRedisURL))
		}
		sink, err := audit.NewRedisSink(opts...)
		if err != nil {
			return err
		}
		if trail, err = sink.AuditTrail(ctx, executionID); err != nil {
			return err
		}
		if routing, err = sink.RoutingHistory(ctx, executionID); err != nil {
			return err
		}
	}

	if replayJSON {
		return json.NewEncoder(os.Stdout).Encode(auditExport{
			ExecutionID: executionID,
			Trail:       trail,
			Routing:     routing,
		})
	}

	fmt.Printf("execution: %s\n", executionID)
	fmt.Printf("rule evaluations (%d):\n", len(trail))
	for _, r := range trail {
		mark := " "
		if r.ConditionResult {
			mark = "*"
		}
		line := fmt.Sprintf("  %s [%s] %-24s %s", mark, r.RuleType, r.RuleID, r.Condition)
		if r.RiskFactor != nil {
			line += fmt.Sprintf("  risk=%.2f", *r.RiskFactor)
		}
		if r.Action != "" {
			line += "  action=" + r.Action
		}
		if r.Message != "" {
			line += "  " + r.Message
		}
		fmt.Println(line)
	}
	fmt.Printf("routing decisions (%d):\n", len(routing))
	for _, r := range routing {
		fmt.Printf("  %s  %s  risk=%.2f  hitl=%v  %s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.Decision, r.RiskScore, r.RequiresHitl, r.Summary)
	}
	return nil
}

func readJSONFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

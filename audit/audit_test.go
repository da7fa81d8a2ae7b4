package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeTruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("x", maxStringLen+100)
	out := Sanitize(map[string]interface{}{"payload": long})
	got, ok := out["payload"].(string)
	require.True(t, ok)
	assert.Less(t, len(got), len(long))
	assert.Contains(t, got, "truncated 100 bytes")
}

func TestSanitizeReplacesBinary(t *testing.T) {
	out := Sanitize(map[string]interface{}{"blob": make([]byte, 2048)})
	assert.Equal(t, "<binary 2048 bytes>", out["blob"])
}

func TestSanitizeCapsDepth(t *testing.T) {
	deep := map[string]interface{}{"k": "v"}
	for i := 0; i < 10; i++ {
		deep = map[string]interface{}{"nested": deep}
	}
	out := Sanitize(deep)

	depth := 0
	cur := interface{}(out)
	for {
		m, ok := cur.(map[string]interface{})
		if !ok {
			break
		}
		depth++
		cur = m["nested"]
	}
	assert.LessOrEqual(t, depth, maxDepth)
	marker, ok := cur.(string)
	require.True(t, ok, "deepest level should be a summary marker, got %T", cur)
	assert.Contains(t, marker, "map with")
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	in := map[string]interface{}{"blob": []byte{1, 2, 3}, "list": []interface{}{"a"}}
	_ = Sanitize(in)
	_, stillBytes := in["blob"].([]byte)
	assert.True(t, stillBytes)
}

func newRedisSink(t *testing.T) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink, err := NewRedisSink(WithClient(client))
	require.NoError(t, err)
	return sink, mr
}

// sinks under test share one behaviour suite.
func testSink(t *testing.T, sink Sink) {
	ctx := context.Background()

	factor := 0.4
	require.NoError(t, sink.LogRuleEvaluation(ctx, RuleEvaluationRecord{
		ExecutionID:     "exec-1",
		RuleID:          "g1",
		RuleType:        "global",
		Condition:       "$input.load > 1000",
		ConditionResult: true,
		RiskFactor:      &factor,
		Action:          "require_review",
		Context:         map[string]interface{}{"load": 1500, "blob": make([]byte, 64)},
	}))
	require.NoError(t, sink.LogRuleEvaluation(ctx, RuleEvaluationRecord{
		ExecutionID: "exec-1",
		RuleID:      "g2",
		RuleType:    "global",
		Condition:   "$input.load > 9000",
	}))

	trail, err := sink.AuditTrail(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "g1", trail[0].RuleID)
	assert.True(t, trail[0].ConditionResult)
	assert.Equal(t, "<binary 64 bytes>", trail[0].Context["blob"], "context must be sanitized before storage")
	assert.False(t, trail[1].ConditionResult)

	empty, err := sink.AuditTrail(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, sink.LogRoutingDecision(ctx, RoutingRecord{
		ExecutionID:  "exec-1",
		SchemaKey:    "orders",
		Decision:     "pause",
		RiskScore:    0.6,
		RequiresHitl: true,
		Summary:      "decision=pause risk=0.60",
	}))
	history, err := sink.RoutingHistory(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "pause", history[0].Decision)
	assert.True(t, history[0].RequiresHitl)

	require.NoError(t, sink.UpdateRuleEffectiveness(ctx, "g1", true))
	require.NoError(t, sink.UpdateRuleEffectiveness(ctx, "g1", false))
	require.NoError(t, sink.UpdateRuleEffectiveness(ctx, "g2", false))

	summary, err := sink.RuleEffectivenessSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary["g1"].TimesEvaluated)
	assert.Equal(t, 1, summary["g1"].TimesTriggered)
	assert.Equal(t, 1, summary["g2"].TimesEvaluated)
	assert.Equal(t, 0, summary["g2"].TimesTriggered)

	require.NoError(t, sink.RecordHumanDecision(ctx, HumanDecisionRecord{
		ExecutionID: "exec-1",
		Reviewer:    "reviewer-7",
		Decision:    "approve",
		Comment:     "checked manually",
	}))
	require.NoError(t, sink.RecordHumanOverride(ctx, OverrideRecord{
		ExecutionID:      "exec-1",
		Reviewer:         "reviewer-7",
		OriginalDecision: "pause",
		NewDecision:      "approve",
		Reason:           "known customer",
	}))

	report, err := sink.GenerateComplianceReport(ctx,
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalDecisions)
	assert.Equal(t, 1, report.DecisionCounts["pause"])
	assert.Equal(t, 1, report.HitlCount)
	assert.Equal(t, 1, report.OverrideCount)

	filtered, err := sink.GenerateComplianceReport(ctx,
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour),
		&ReportFilter{Decision: "approve"})
	require.NoError(t, err)
	assert.Equal(t, 0, filtered.TotalDecisions)

	outside, err := sink.GenerateComplianceReport(ctx,
		time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, outside.TotalDecisions)
}

func TestMemorySink(t *testing.T) {
	testSink(t, NewMemorySink())
}

func TestRedisSink(t *testing.T) {
	sink, _ := newRedisSink(t)
	testSink(t, sink)
}

func TestRedisSinkRecordsCarryTTL(t *testing.T) {
	sink, mr := newRedisSink(t)
	ctx := context.Background()

	require.NoError(t, sink.LogRuleEvaluation(ctx, RuleEvaluationRecord{
		ExecutionID: "exec-ttl", RuleID: "r", RuleType: "global", Condition: "",
	}))
	ttl := mr.TTL(sink.trailKey("exec-ttl"))
	assert.Greater(t, ttl, time.Hour)
}

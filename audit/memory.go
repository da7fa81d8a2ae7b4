package audit

import (
	"context"
	"sync"
	"time"
)

// MemorySink keeps the audit trail in process memory. Used in tests and as
// the default when no store is configured.
type MemorySink struct {
	mu            sync.RWMutex
	evaluations   map[string][]RuleEvaluationRecord
	routings      map[string][]RoutingRecord
	allRoutings   []RoutingRecord
	decisions     map[string][]HumanDecisionRecord
	overrides     map[string][]OverrideRecord
	effectiveness map[string]*RuleEffectiveness
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		evaluations:   make(map[string][]RuleEvaluationRecord),
		routings:      make(map[string][]RoutingRecord),
		decisions:     make(map[string][]HumanDecisionRecord),
		overrides:     make(map[string][]OverrideRecord),
		effectiveness: make(map[string]*RuleEffectiveness),
	}
}

func (s *MemorySink) LogRuleEvaluation(_ context.Context, record RuleEvaluationRecord) error {
	record.Context = Sanitize(record.Context)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations[record.ExecutionID] = append(s.evaluations[record.ExecutionID], record)
	return nil
}

func (s *MemorySink) LogRoutingDecision(_ context.Context, record RoutingRecord) error {
	record.Context = Sanitize(record.Context)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routings[record.ExecutionID] = append(s.routings[record.ExecutionID], record)
	s.allRoutings = append(s.allRoutings, record)
	return nil
}

func (s *MemorySink) UpdateRuleEffectiveness(_ context.Context, ruleID string, triggered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	eff, ok := s.effectiveness[ruleID]
	if !ok {
		eff = &RuleEffectiveness{RuleID: ruleID}
		s.effectiveness[ruleID] = eff
	}
	eff.TimesEvaluated++
	if triggered {
		eff.TimesTriggered++
		eff.LastTriggered = time.Now().UTC()
	}
	return nil
}

func (s *MemorySink) RecordHumanOverride(_ context.Context, record OverrideRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[record.ExecutionID] = append(s.overrides[record.ExecutionID], record)
	return nil
}

func (s *MemorySink) RecordHumanDecision(_ context.Context, record HumanDecisionRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[record.ExecutionID] = append(s.decisions[record.ExecutionID], record)
	return nil
}

func (s *MemorySink) AuditTrail(_ context.Context, executionID string) ([]RuleEvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RuleEvaluationRecord, len(s.evaluations[executionID]))
	copy(out, s.evaluations[executionID])
	return out, nil
}

func (s *MemorySink) RoutingHistory(_ context.Context, executionID string) ([]RoutingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoutingRecord, len(s.routings[executionID]))
	copy(out, s.routings[executionID])
	return out, nil
}

func (s *MemorySink) RuleEffectivenessSummary(_ context.Context) (map[string]RuleEffectiveness, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]RuleEffectiveness, len(s.effectiveness))
	for id, eff := range s.effectiveness {
		out[id] = *eff
	}
	return out, nil
}

func (s *MemorySink) GenerateComplianceReport(_ context.Context, from, to time.Time, filter *ReportFilter) (*ComplianceReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := &ComplianceReport{
		From:           from,
		To:             to,
		DecisionCounts: make(map[string]int),
		GeneratedAt:    time.Now().UTC(),
	}
	for _, record := range s.allRoutings {
		if record.Timestamp.Before(from) || record.Timestamp.After(to) {
			continue
		}
		if filter != nil {
			if filter.SchemaKey != "" && record.SchemaKey != filter.SchemaKey {
				continue
			}
			if filter.Decision != "" && record.Decision != filter.Decision {
				continue
			}
		}
		report.TotalDecisions++
		report.DecisionCounts[record.Decision]++
		if record.RequiresHitl {
			report.HitlCount++
		}
		if len(s.overrides[record.ExecutionID]) > 0 {
			report.OverrideCount++
		}
	}
	return report, nil
}

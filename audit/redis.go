package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/structa/flowgate/core"
)

const (
	defaultAuditKeyPrefix = "flowgate:audit"
	defaultAuditTTL       = 90 * 24 * time.Hour
)

// RedisSinkOption configures the Redis audit sink.
type RedisSinkOption func(*redisSinkConfig)

type redisSinkConfig struct {
	redisURL  string
	redisDB   int
	keyPrefix string
	ttl       time.Duration
	logger    core.Logger
	client    *redis.Client
}

// WithRedisURL sets the Redis connection URL.
func WithRedisURL(url string) RedisSinkOption {
	return func(c *redisSinkConfig) { c.redisURL = url }
}

// WithRedisDB sets the Redis database number.
func WithRedisDB(db int) RedisSinkOption {
	return func(c *redisSinkConfig) { c.redisDB = db }
}

// WithKeyPrefix sets a custom key prefix for audit records.
func WithKeyPrefix(prefix string) RedisSinkOption {
	return func(c *redisSinkConfig) { c.keyPrefix = prefix }
}

// WithTTL sets the retention for audit records.
func WithTTL(ttl time.Duration) RedisSinkOption {
	return func(c *redisSinkConfig) { c.ttl = ttl }
}

// WithSinkLogger sets the logger for sink operations.
func WithSinkLogger(logger core.Logger) RedisSinkOption {
	return func(c *redisSinkConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClient injects an existing Redis client, bypassing URL parsing and the
// connection check. Used in tests.
func WithClient(client *redis.Client) RedisSinkOption {
	return func(c *redisSinkConfig) { c.client = client }
}

// RedisSink persists the audit trail in Redis. Records live in per-execution
// lists plus a global routing index sorted by timestamp, all behind a
// retention TTL.
type RedisSink struct {
	client    *redis.Client
	logger    core.Logger
	keyPrefix string
	ttl       time.Duration
}

// NewRedisSink creates a Redis-backed audit sink.
//
// Environment variable precedence:
//   - REDIS_URL: connection URL (default: localhost:6379)
//   - FLOWGATE_AUDIT_REDIS_DB: database number (default: 0)
//   - FLOWGATE_AUDIT_KEY_PREFIX: key prefix (default: flowgate:audit)
func NewRedisSink(opts ...RedisSinkOption) (*RedisSink, error) {
	cfg := &redisSinkConfig{
		redisURL:  envString("REDIS_URL", "redis://localhost:6379"),
		redisDB:   envInt("FLOWGATE_AUDIT_REDIS_DB", 0),
		keyPrefix: envString("FLOWGATE_AUDIT_KEY_PREFIX", defaultAuditKeyPrefix),
		ttl:       defaultAuditTTL,
		logger:    &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := cfg.client
	if client == nil {
		redisOpt, err := redis.ParseURL(cfg.redisURL)
		if err != nil {
			// Fall back to treating it as a bare address.
			redisOpt = &redis.Options{Addr: cfg.redisURL}
		}
		redisOpt.DB = cfg.redisDB
		client = redis.NewClient(redisOpt)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis connection failed at %s (DB %d): %w\n"+
				"Hint: check REDIS_URL or use WithRedisURL()", cfg.redisURL, cfg.redisDB, err)
		}
	}

	cfg.logger.Info("Redis audit sink initialized", map[string]interface{}{
		"key_prefix": cfg.keyPrefix,
		"ttl":        cfg.ttl.String(),
	})
	return &RedisSink{
		client:    client,
		logger:    cfg.logger,
		keyPrefix: cfg.keyPrefix,
		ttl:       cfg.ttl,
	}, nil
}

func (s *RedisSink) trailKey(executionID string) string {
	return fmt.Sprintf("%s:trail:%s", s.keyPrefix, executionID)
}

func (s *RedisSink) routingKey(executionID string) string {
	return fmt.Sprintf("%s:routing:%s", s.keyPrefix, executionID)
}

func (s *RedisSink) routingIndexKey() string {
	return s.keyPrefix + ":routing:index"
}

func (s *RedisSink) decisionsKey(executionID string) string {
	return fmt.Sprintf("%s:decisions:%s", s.keyPrefix, executionID)
}

func (s *RedisSink) overridesKey(executionID string) string {
	return fmt.Sprintf("%s:overrides:%s", s.keyPrefix, executionID)
}

func (s *RedisSink) effectivenessKey() string {
	return s.keyPrefix + ":effectiveness"
}

// appendRecord pushes a JSON-encoded record onto a per-execution list and
// refreshes the retention TTL.
func (s *RedisSink) appendRecord(ctx context.Context, key string, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("redis rpush failed: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		s.logger.Warn("Failed to set audit record TTL", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return nil
}

func (s *RedisSink) LogRuleEvaluation(ctx context.Context, record RuleEvaluationRecord) error {
	record.Context = Sanitize(record.Context)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	return s.appendRecord(ctx, s.trailKey(record.ExecutionID), record)
}

func (s *RedisSink) LogRoutingDecision(ctx context.Context, record RoutingRecord) error {
	record.Context = Sanitize(record.Context)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if err := s.appendRecord(ctx, s.routingKey(record.ExecutionID), record); err != nil {
		return err
	}
	// Global index for compliance reports, scored by decision time.
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal routing record: %w", err)
	}
	if err := s.client.ZAdd(ctx, s.routingIndexKey(), &redis.Z{
		Score:  float64(record.Timestamp.UnixNano()),
		Member: data,
	}).Err(); err != nil {
		s.logger.Warn("Failed to update routing index", map[string]interface{}{
			"execution_id": record.ExecutionID,
			"error":        err.Error(),
		})
	}
	return nil
}

func (s *RedisSink) UpdateRuleEffectiveness(ctx context.Context, ruleID string, triggered bool) error {
	key := s.effectivenessKey()
	if err := s.client.HIncrBy(ctx, key, ruleID+":evaluated", 1).Err(); err != nil {
		return fmt.Errorf("redis hincrby failed: %w", err)
	}
	if triggered {
		if err := s.client.HIncrBy(ctx, key, ruleID+":triggered", 1).Err(); err != nil {
			return fmt.Errorf("redis hincrby failed: %w", err)
		}
		if err := s.client.HSet(ctx, key, ruleID+":last_triggered", time.Now().UTC().Format(time.RFC3339)).Err(); err != nil {
			return fmt.Errorf("redis hset failed: %w", err)
		}
	}
	return nil
}

func (s *RedisSink) RecordHumanOverride(ctx context.Context, record OverrideRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if err := s.appendRecord(ctx, s.overridesKey(record.ExecutionID), record); err != nil {
		return err
	}
	if err := s.client.HIncrBy(ctx, s.effectivenessKey(), "overrides:"+record.ExecutionID, 1).Err(); err != nil {
		s.logger.Warn("Failed to count override", map[string]interface{}{
			"execution_id": record.ExecutionID,
			"error":        err.Error(),
		})
	}
	return nil
}

func (s *RedisSink) RecordHumanDecision(ctx context.Context, record HumanDecisionRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	return s.appendRecord(ctx, s.decisionsKey(record.ExecutionID), record)
}

func (s *RedisSink) AuditTrail(ctx context.Context, executionID string) ([]RuleEvaluationRecord, error) {
	items, err := s.client.LRange(ctx, s.trailKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	out := make([]RuleEvaluationRecord, 0, len(items))
	for _, item := range items {
		var record RuleEvaluationRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			s.logger.Warn("Skipping corrupt audit record", map[string]interface{}{
				"execution_id": executionID,
				"error":        err.Error(),
			})
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *RedisSink) RoutingHistory(ctx context.Context, executionID string) ([]RoutingRecord, error) {
	items, err := s.client.LRange(ctx, s.routingKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	out := make([]RoutingRecord, 0, len(items))
	for _, item := range items {
		var record RoutingRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *RedisSink) RuleEffectivenessSummary(ctx context.Context) (map[string]RuleEffectiveness, error) {
	fields, err := s.client.HGetAll(ctx, s.effectivenessKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	out := make(map[string]RuleEffectiveness)
	for field, value := range fields {
		ruleID, counter, ok := splitEffectivenessField(field)
		if !ok {
			continue
		}
		eff := out[ruleID]
		eff.RuleID = ruleID
		switch counter {
		case "evaluated":
			eff.TimesEvaluated, _ = strconv.Atoi(value)
		case "triggered":
			eff.TimesTriggered, _ = strconv.Atoi(value)
		case "last_triggered":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				eff.LastTriggered = ts
			}
		}
		out[ruleID] = eff
	}
	return out, nil
}

func (s *RedisSink) GenerateComplianceReport(ctx context.Context, from, to time.Time, filter *ReportFilter) (*ComplianceReport, error) {
	items, err := s.client.ZRangeByScore(ctx, s.routingIndexKey(), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.UnixNano()),
		Max: fmt.Sprintf("%d", to.UnixNano()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore failed: %w", err)
	}

	report := &ComplianceReport{
		From:           from,
		To:             to,
		DecisionCounts: make(map[string]int),
		GeneratedAt:    time.Now().UTC(),
	}
	for _, item := range items {
		var record RoutingRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
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
		overrides, err := s.client.LLen(ctx, s.overridesKey(record.ExecutionID)).Result()
		if err == nil && overrides > 0 {
			report.OverrideCount++
		}
	}
	return report, nil
}

func splitEffectivenessField(field string) (ruleID, counter string, ok bool) {
	for i := len(field) - 1; i >= 0; i-- {
		if field[i] == ':' {
			ruleID, counter = field[:i], field[i+1:]
			break
		}
	}
	if ruleID == "" || counter == "" || ruleID == "overrides" {
		return "", "", false
	}
	return ruleID, counter, true
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

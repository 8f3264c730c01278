package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Redis key layout:
//
//	gateway:project:<uuid>              hash   project record
//	gateway:apikey:<sha256-hex>         hash   api key record
//	gateway:usage:project:<uuid>:<day>  hash   tokens / cost_micro / requests
//	gateway:usage:provider:<name>:<day> hash   tokens / cost_micro / requests
//	gateway:cred:<uuid>:<provider>      string encrypted credential blob
type RedisStore struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }
func (s *RedisStore) Close() error                   { return s.rdb.Close() }

func projectKey(id uuid.UUID) string            { return "gateway:project:" + id.String() }
func apiKeyKey(hash string) string              { return "gateway:apikey:" + hash }
func credKey(id uuid.UUID, provider string) string {
	return "gateway:cred:" + id.String() + ":" + provider
}
func projectUsageKey(id uuid.UUID, day string) string {
	return "gateway:usage:project:" + id.String() + ":" + day
}
func providerUsageKey(provider, day string) string {
	return "gateway:usage:provider:" + provider + ":" + day
}

func (s *RedisStore) Project(ctx context.Context, id uuid.UUID) (*Project, error) {
	fields, err := s.rdb.HGetAll(ctx, projectKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: load project: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	p := &Project{
		ID:              id,
		Name:            fields["name"],
		DefaultProvider: fields["default_provider"],
		Active:          fields["active"] == "1",
	}
	if p.DailyTokenLimit, err = parseTokenLimit(fields["daily_token_limit"]); err != nil {
		return nil, err
	}
	if p.MonthlyTokenLimit, err = parseTokenLimit(fields["monthly_token_limit"]); err != nil {
		return nil, err
	}
	if p.DailyCostLimit, err = parseCostLimit(fields["daily_cost_limit"]); err != nil {
		return nil, err
	}
	if p.MonthlyCostLimit, err = parseCostLimit(fields["monthly_cost_limit"]); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *RedisStore) SaveProject(ctx context.Context, p *Project) error {
	fields := map[string]any{
		"name":                p.Name,
		"default_provider":    p.DefaultProvider,
		"active":              boolField(p.Active),
		"daily_token_limit":   tokenLimitField(p.DailyTokenLimit),
		"daily_cost_limit":    costLimitField(p.DailyCostLimit),
		"monthly_token_limit": tokenLimitField(p.MonthlyTokenLimit),
		"monthly_cost_limit":  costLimitField(p.MonthlyCostLimit),
	}
	if err := s.rdb.HSet(ctx, projectKey(p.ID), fields).Err(); err != nil {
		return fmt.Errorf("store: save project: %w", err)
	}
	return nil
}

func (s *RedisStore) APIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	fields, err := s.rdb.HGetAll(ctx, apiKeyKey(hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: load api key: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("store: api key record corrupt: %w", err)
	}
	projectID, err := uuid.Parse(fields["project_id"])
	if err != nil {
		return nil, fmt.Errorf("store: api key record corrupt: %w", err)
	}
	rpm, _ := strconv.Atoi(fields["rate_limit_rpm"])

	return &APIKey{
		ID:           id,
		ProjectID:    projectID,
		Name:         fields["name"],
		RateLimitRPM: rpm,
		Active:       fields["active"] == "1",
	}, nil
}

func (s *RedisStore) SaveAPIKey(ctx context.Context, k *APIKey, hash string) error {
	fields := map[string]any{
		"id":             k.ID.String(),
		"project_id":     k.ProjectID.String(),
		"name":           k.Name,
		"rate_limit_rpm": strconv.Itoa(k.RateLimitRPM),
		"active":         boolField(k.Active),
	}
	if err := s.rdb.HSet(ctx, apiKeyKey(hash), fields).Err(); err != nil {
		return fmt.Errorf("store: save api key: %w", err)
	}
	return nil
}

func (s *RedisStore) ProjectCounter(ctx context.Context, projectID uuid.UUID, day string) (Counter, error) {
	return s.counter(ctx, projectUsageKey(projectID, day))
}

func (s *RedisStore) counter(ctx context.Context, key string) (Counter, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Counter{}, fmt.Errorf("store: load counter: %w", err)
	}
	tokens, _ := strconv.ParseInt(fields["tokens"], 10, 64)
	micro, _ := strconv.ParseInt(fields["cost_micro"], 10, 64)
	requests, _ := strconv.ParseInt(fields["requests"], 10, 64)
	return Counter{Tokens: tokens, Cost: microToCost(micro), Requests: requests}, nil
}

func (s *RedisStore) AddProjectUsage(ctx context.Context, projectID uuid.UUID, day string, tokens int64, cost decimal.Decimal) error {
	return s.addUsage(ctx, projectUsageKey(projectID, day), tokens, cost)
}

func (s *RedisStore) AddProviderUsage(ctx context.Context, provider, day string, tokens int64, cost decimal.Decimal) error {
	return s.addUsage(ctx, providerUsageKey(provider, day), tokens, cost)
}

func (s *RedisStore) addUsage(ctx context.Context, key string, tokens int64, cost decimal.Decimal) error {
	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "tokens", tokens)
	pipe.HIncrBy(ctx, key, "cost_micro", costToMicro(cost))
	pipe.HIncrBy(ctx, key, "requests", 1)
	pipe.Expire(ctx, key, CounterRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: increment counter: %w", err)
	}
	return nil
}

func (s *RedisStore) Credential(ctx context.Context, projectID uuid.UUID, provider string) (string, error) {
	blob, err := s.rdb.Get(ctx, credKey(projectID, provider)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: load credential: %w", err)
	}
	return blob, nil
}

func (s *RedisStore) SetCredential(ctx context.Context, projectID uuid.UUID, provider, blob string) error {
	if err := s.rdb.Set(ctx, credKey(projectID, provider), blob, 0).Err(); err != nil {
		return fmt.Errorf("store: save credential: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteCredential(ctx context.Context, projectID uuid.UUID, provider string) error {
	if err := s.rdb.Del(ctx, credKey(projectID, provider)).Err(); err != nil {
		return fmt.Errorf("store: delete credential: %w", err)
	}
	return nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func tokenLimitField(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func costLimitField(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseTokenLimit(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("store: bad token limit %q: %w", s, err)
	}
	return &v, nil
}

func parseCostLimit(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("store: bad cost limit %q: %w", s, err)
	}
	return &v, nil
}

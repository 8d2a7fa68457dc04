package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/redis/go-redis/v9"
)

const flowKeyPrefix = "auth:flow:"

// advanceScript swaps in the next flow record only if the stored step still
// matches what the caller read. Returns 1 on advance, 0 on step mismatch,
// -1 when the flow is gone.
var advanceScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return -1
end
local flow = cjson.decode(raw)
if flow["step"] ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// RedisStore keeps flows as JSON values with native TTL. Terminal flows
// stay readable for a short grace period instead of the full flow TTL.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func flowKey(id string) string {
	return flowKeyPrefix + id
}

func flowTTL(flow *models.FlowState) time.Duration {
	if flow.IsTerminal() {
		return terminalGrace
	}
	return time.Until(flow.ExpiresAt)
}

func (s *RedisStore) Create(ctx context.Context, flow *models.FlowState) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	ttl := flowTTL(flow)
	if ttl <= 0 {
		return fmt.Errorf("flow already expired")
	}

	if err := s.client.Set(ctx, flowKey(flow.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: failed to store flow: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.FlowState, error) {
	raw, err := s.client.Get(ctx, flowKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrInvalidFlowState
		}
		return nil, fmt.Errorf("%w: failed to get flow: %v", models.ErrStoreUnavailable, err)
	}

	var flow models.FlowState
	if err := json.Unmarshal(raw, &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	return &flow, nil
}

func (s *RedisStore) Advance(ctx context.Context, next *models.FlowState, from models.FlowStep) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	ttl := flowTTL(next)
	if ttl <= 0 {
		return models.ErrInvalidFlowState
	}

	result, err := advanceScript.Run(ctx, s.client, []string{flowKey(next.ID)}, string(from), data, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("%w: failed to advance flow: %v", models.ErrStoreUnavailable, err)
	}
	if result != 1 {
		return models.ErrInvalidFlowState
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, flowKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: failed to delete flow: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix      = "auth:session:"
	userSessionsKeyPrefix = "auth:user_sessions:"
)

// rotateScript compares the stored refresh_token_id against the presented
// JTI and swaps in the next one, preserving the key's TTL. Returns 1 on
// rotation, 0 on mismatch, -1 when the session is gone.
var rotateScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return -1
end
local sess = cjson.decode(raw)
if sess["refresh_token_id"] ~= ARGV[1] then
  return 0
end
sess["refresh_token_id"] = ARGV[2]
local ttl = redis.call("TTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], cjson.encode(sess), "EX", ttl)
else
  redis.call("SET", KEYS[1], cjson.encode(sess))
end
return 1
`)

// touchScript rewrites only the activity fields so a stale reader can never
// revert a concurrently rotated refresh_token_id or a fresh elevated_until.
// An empty ARGV[2] leaves the address and location untouched.
var touchScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return -1
end
local sess = cjson.decode(raw)
sess["last_activity_at"] = ARGV[1]
if ARGV[2] ~= "" then
  sess["ip_address"] = ARGV[2]
  sess["location"] = cjson.decode(ARGV[3])
end
local ttl = redis.call("TTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], cjson.encode(sess), "EX", ttl)
else
  redis.call("SET", KEYS[1], cjson.encode(sess))
end
return 1
`)

// elevateScript sets elevated_until and nothing else.
var elevateScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return -1
end
local sess = cjson.decode(raw)
sess["elevated_until"] = ARGV[1]
local ttl = redis.call("TTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], cjson.encode(sess), "EX", ttl)
else
  redis.call("SET", KEYS[1], cjson.encode(sess))
end
return 1
`)

// RedisStore keeps sessions as JSON values with native TTL plus a per-user
// index set used for "log out everywhere" and anomaly checks.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userSessionsKey(userID string) string {
	return userSessionsKeyPrefix + userID
}

func (s *RedisStore) Create(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, ttl)
	pipe.SAdd(ctx, userSessionsKey(sess.UserID), sess.ID)
	pipe.Expire(ctx, userSessionsKey(sess.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to store session: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: failed to get session: %v", models.ErrStoreUnavailable, err)
	}

	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) UpdateActivity(ctx context.Context, id string, upd ActivityUpdate) error {
	locJSON := []byte("{}")
	if upd.IPAddress != "" {
		var err error
		locJSON, err = json.Marshal(upd.Location)
		if err != nil {
			return fmt.Errorf("failed to marshal location: %w", err)
		}
	}

	result, err := touchScript.Run(ctx, s.client, []string{sessionKey(id)},
		upd.LastActivityAt.UTC().Format(time.RFC3339Nano), upd.IPAddress, string(locJSON)).Int()
	if err != nil {
		return fmt.Errorf("%w: failed to update session activity: %v", models.ErrStoreUnavailable, err)
	}
	if result != 1 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) SetElevation(ctx context.Context, id string, until time.Time) error {
	result, err := elevateScript.Run(ctx, s.client, []string{sessionKey(id)},
		until.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("%w: failed to elevate session: %v", models.ErrStoreUnavailable, err)
	}
	if result != 1 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, userSessionsKey(sess.UserID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to delete session: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	ids, err := s.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list sessions: %v", models.ErrStoreUnavailable, err)
	}

	sessions := make([]*models.Session, 0, len(ids))
	var stale []interface{}
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, models.ErrSessionNotFound) {
				// TTL already reclaimed the value; drop the index entry.
				stale = append(stale, id)
				continue
			}
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		_ = s.client.SRem(ctx, userSessionsKey(userID), stale...).Err()
	}

	return sessions, nil
}

func (s *RedisStore) DeleteAllExcept(ctx context.Context, userID, keepID string) (int, error) {
	sessions, err := s.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, sess := range sessions {
		if sess.ID == keepID {
			continue
		}
		if err := s.Delete(ctx, sess.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *RedisStore) RotateRefreshToken(ctx context.Context, id, currentJTI, nextJTI string) error {
	result, err := rotateScript.Run(ctx, s.client, []string{sessionKey(id)}, currentJTI, nextJTI).Int()
	if err != nil {
		return fmt.Errorf("%w: failed to rotate refresh token: %v", models.ErrStoreUnavailable, err)
	}

	switch result {
	case 1:
		return nil
	case 0:
		return models.ErrTokenInvalid
	default:
		return models.ErrSessionNotFound
	}
}

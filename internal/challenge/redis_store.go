package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/redis/go-redis/v9"
)

const challengeKeyPrefix = "auth:challenge:"

// RedisStore keeps challenges in Redis with native TTL. GETDEL makes
// consumption atomic, so a challenge is observed by at most one verifier.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func challengeKey(subjectID, purpose string) string {
	return challengeKeyPrefix + purpose + ":" + subjectID
}

func (s *RedisStore) Put(ctx context.Context, subjectID, purpose string, data []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, challengeKey(subjectID, purpose), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: failed to store challenge: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, subjectID, purpose string) ([]byte, error) {
	data, err := s.client.GetDel(ctx, challengeKey(subjectID, purpose)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: failed to consume challenge: %v", models.ErrStoreUnavailable, err)
	}
	return data, nil
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSessionKeyPrefix = "keepsake:session:"

// RedisSessionStore persists sessions in Redis. Expiry is enforced twice:
// the manager checks the stored timestamps, and the key itself carries a TTL
// so abandoned sessions disappear without a purge pass.
type RedisSessionStore struct {
	client *redis.Client
}

type redisSessionRecord struct {
	UserID            string    `json:"userId"`
	ExpiresAt         time.Time `json:"expiresAt"`
	AbsoluteExpiresAt time.Time `json:"absoluteExpiresAt"`
}

// NewRedisSessionStore connects to Redis using a redis:// URL.
func NewRedisSessionStore(redisURL string) (*RedisSessionStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis session url required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis session url: %w", err)
	}
	return &RedisSessionStore{client: redis.NewClient(opts)}, nil
}

// Close releases the Redis client resources.
func (s *RedisSessionStore) Close(context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Save stores or updates the session token with a TTL matching its expiry.
func (s *RedisSessionStore) Save(token, userID string, expiresAt, absoluteExpiresAt time.Time) error {
	payload, err := json.Marshal(redisSessionRecord{
		UserID:            userID,
		ExpiresAt:         expiresAt.UTC(),
		AbsoluteExpiresAt: absoluteExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.Set(context.Background(), redisSessionKeyPrefix+token, payload, ttl).Err()
}

// Get fetches the session details for the provided token.
func (s *RedisSessionStore) Get(token string) (SessionRecord, bool, error) {
	payload, err := s.client.Get(context.Background(), redisSessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	var record redisSessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode session record: %w", err)
	}
	return SessionRecord{
		Token:             token,
		UserID:            record.UserID,
		ExpiresAt:         record.ExpiresAt,
		AbsoluteExpiresAt: record.AbsoluteExpiresAt,
	}, true, nil
}

// Delete removes the session token.
func (s *RedisSessionStore) Delete(token string) error {
	return s.client.Del(context.Background(), redisSessionKeyPrefix+token).Err()
}

// PurgeExpired is a no-op: Redis evicts session keys via their TTL.
func (s *RedisSessionStore) PurgeExpired(time.Time) error {
	return nil
}

// Ping verifies Redis connectivity for health checks.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ SessionStore = (*RedisSessionStore)(nil)

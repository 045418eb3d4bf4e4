package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatekit/portal/internal/ports"
)

func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisSessionStore keeps per-client session state in a Redis hash keyed by
// the session cookie value. The hash expires as a whole; individual keys are
// added and removed by the login flows.
type RedisSessionStore struct {
	client     *redis.Client
	defaultTTL time.Duration
}

func NewRedisSessionStore(client *redis.Client, defaultTTL time.Duration) *RedisSessionStore {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &RedisSessionStore{client: client, defaultTTL: defaultTTL}
}

func sessionKey(sessionID string) string { return "portal:session:" + sessionID }

func (s *RedisSessionStore) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, sessionKey(sessionID), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisSessionStore) Set(ctx context.Context, sessionID, key, value string) error {
	redisKey := sessionKey(sessionID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, redisKey, key, value)
		p.ExpireNX(ctx, redisKey, s.defaultTTL)
		return nil
	})
	return err
}

func (s *RedisSessionStore) Remove(ctx context.Context, sessionID, key string) error {
	return s.client.HDel(ctx, sessionKey(sessionID), key).Err()
}

// Take reads and deletes in one round-trip so two concurrent readers cannot
// both observe a one-shot value.
func (s *RedisSessionStore) Take(ctx context.Context, sessionID, key string) (string, bool, error) {
	redisKey := sessionKey(sessionID)
	pipe := s.client.TxPipeline()
	get := pipe.HGet(ctx, redisKey, key)
	pipe.HDel(ctx, redisKey, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", false, err
	}
	value, err := get.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisSessionStore) ExpireAfter(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.client.Expire(ctx, sessionKey(sessionID), ttl).Err()
}

func (s *RedisSessionStore) Destroy(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, sessionKey(sessionID)).Err()
}

// RedisHandshakeStateStore holds one provider round-trip's server-generated
// state under the opaque state token, with a TTL bounding the handshake.
type RedisHandshakeStateStore struct {
	client *redis.Client
}

func NewRedisHandshakeStateStore(client *redis.Client) *RedisHandshakeStateStore {
	return &RedisHandshakeStateStore{client: client}
}

func (s *RedisHandshakeStateStore) Put(ctx context.Context, state string, value ports.HandshakeState, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, "portal:handshake:"+state, raw, ttl).Err()
}

func (s *RedisHandshakeStateStore) Get(ctx context.Context, state string) (*ports.HandshakeState, error) {
	raw, err := s.client.Get(ctx, "portal:handshake:"+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out ports.HandshakeState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *RedisHandshakeStateStore) Delete(ctx context.Context, state string) error {
	return s.client.Del(ctx, "portal:handshake:"+state).Err()
}

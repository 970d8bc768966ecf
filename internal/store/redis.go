package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

const sessionKeyPrefix = "session:"

// RedisStore persists sessions as JSON values with Redis-managed TTLs,
// so expiry needs no sweep goroutine.
type RedisStore struct {
	client     *redis.Client
	defaultTTL time.Duration
	maxCount   int
}

// NewRedisStore connects to the Redis URL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, defaultTTL time.Duration, maxCount int) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, types.Errorf(types.ErrStoreUnavailable, "redis ping failed: %v", err)
	}

	log.Info().
		Str("addr", opts.Addr).
		Dur("default_ttl", defaultTTL).
		Msg("Redis session store initialized")
	return &RedisStore{client: client, defaultTTL: defaultTTL, maxCount: maxCount}, nil
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func (r *RedisStore) put(ctx context.Context, s *types.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := r.client.Set(ctx, sessionKey(s.ID), payload, ttl).Err(); err != nil {
		return types.Errorf(types.ErrStoreUnavailable, "redis set: %v", err)
	}
	return nil
}

// Create implements Store.
func (r *RedisStore) Create(ctx context.Context, data types.SessionData) (*types.Session, error) {
	if r.maxCount > 0 {
		n, err := r.Count(ctx)
		if err != nil {
			return nil, err
		}
		if n >= r.maxCount {
			return nil, types.Errorf(types.ErrTooManySessions, "session limit %d reached", r.maxCount)
		}
	}

	ttl := data.TTL
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	now := time.Now()
	s := &types.Session{
		ID:             uuid.NewString(),
		UserID:         data.UserID,
		Username:       data.Username,
		Roles:          append([]string(nil), data.Roles...),
		Metadata:       cloneMeta(data.Metadata),
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
	}
	if err := r.put(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get implements Store. Redis TTL expiry makes missing and expired the
// same case.
func (r *RedisStore) Get(ctx context.Context, id string) (*types.Session, error) {
	payload, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, types.Errorf(types.ErrStoreUnavailable, "redis get: %v", err)
	}

	var s types.Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling session %s: %w", id, err)
	}
	if s.Expired(time.Now()) {
		_ = r.client.Del(ctx, sessionKey(id)).Err()
		return nil, nil
	}
	return &s, nil
}

// Update implements Store.
func (r *RedisStore) Update(ctx context.Context, id string, data types.SessionData) (*types.Session, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, types.ErrSessionNotFound
	}
	applyData(s, data)
	s.LastActivityAt = time.Now()
	if err := r.put(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return types.Errorf(types.ErrStoreUnavailable, "redis del: %v", err)
	}
	if n == 0 {
		return types.ErrSessionNotFound
	}
	return nil
}

// List implements Store. Scans the session keyspace; acceptable for the
// session counts this service caps at.
func (r *RedisStore) List(ctx context.Context, userID string) ([]*types.Session, error) {
	var out []*types.Session
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		payload, err := r.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, types.Errorf(types.ErrStoreUnavailable, "redis get: %v", err)
		}
		var s types.Session
		if err := json.Unmarshal(payload, &s); err != nil {
			log.Warn().Err(err).Str("key", iter.Val()).Msg("Skipping undecodable session")
			continue
		}
		if userID != "" && s.UserID != userID {
			continue
		}
		out = append(out, &s)
	}
	if err := iter.Err(); err != nil {
		return nil, types.Errorf(types.ErrStoreUnavailable, "redis scan: %v", err)
	}
	return out, nil
}

// Touch implements Store.
func (r *RedisStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return types.ErrSessionNotFound
	}
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	now := time.Now()
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(ttl)
	return r.put(ctx, s)
}

// DeleteExpired implements Store. Redis evicts expired keys itself.
func (r *RedisStore) DeleteExpired(context.Context) (int, error) { return 0, nil }

// Count implements Store.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, types.Errorf(types.ErrStoreUnavailable, "redis scan: %v", err)
	}
	return n, nil
}

// Ping implements Store.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return types.Errorf(types.ErrStoreUnavailable, "redis ping: %v", err)
	}
	return nil
}

// Close implements Store.
func (r *RedisStore) Close() error { return r.client.Close() }

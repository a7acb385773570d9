package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// ResumeCache holds the cart resume rows of a user for a short TTL. It is
// constructed once per process and handed to the cart service.
type ResumeCache interface {
	Get(ctx context.Context, userID uuid.UUID) ([]LineItem, error)
	Set(ctx context.Context, userID uuid.UUID, items []LineItem) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

type RedisResumeCache struct {
	client    redis.Cmdable
	baseTTL   time.Duration
	maxJitter time.Duration
}

func NewRedisResumeCache(client redis.Cmdable, ttl time.Duration) *RedisResumeCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisResumeCache{
		client:    client,
		baseTTL:   ttl,
		maxJitter: ttl / 4,
	}
}

func (c *RedisResumeCache) Get(ctx context.Context, userID uuid.UUID) ([]LineItem, error) {
	data, err := c.client.Get(ctx, resumeKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var items []LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal cart items failed: %w", err)
	}
	return items, nil
}

func (c *RedisResumeCache) Set(ctx context.Context, userID uuid.UUID, items []LineItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart items failed: %w", err)
	}

	ttl := c.baseTTL
	if c.maxJitter > 0 {
		ttl += time.Duration(rand.Int63n(int64(c.maxJitter)))
	}
	if err := c.client.Set(ctx, resumeKey(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *RedisResumeCache) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := c.client.Del(ctx, resumeKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func resumeKey(userID uuid.UUID) string {
	return fmt.Sprintf("cart:resume:%s", userID)
}

// NoopCache always misses. Used when no Redis is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, uuid.UUID) ([]LineItem, error) { return nil, ErrCacheMiss }

func (NoopCache) Set(context.Context, uuid.UUID, []LineItem) error { return nil }

func (NoopCache) Delete(context.Context, uuid.UUID) error { return nil }

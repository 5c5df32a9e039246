package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTokenCacheKey = "submission-sync:access-token"

// RedisTokenCache stores the access token in Redis so that several
// processes share one token.
type RedisTokenCache struct {
	client redis.Cmdable
	key    string
}

type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewRedisTokenCache(client redis.Cmdable, key string) *RedisTokenCache {
	if key == "" {
		key = defaultTokenCacheKey
	}
	return &RedisTokenCache{client: client, key: key}
}

func (c *RedisTokenCache) Get(ctx context.Context) (string, time.Time, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Result()
	if err == redis.Nil {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("redis get token: %w", err)
	}
	var ct cachedToken
	if err := json.Unmarshal([]byte(raw), &ct); err != nil {
		return "", time.Time{}, false, fmt.Errorf("decode cached token: %w", err)
	}
	return ct.Token, ct.ExpiresAt, ct.Token != "", nil
}

func (c *RedisTokenCache) Set(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(cachedToken{Token: token, ExpiresAt: expiresAt.UTC()})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, raw, ttl).Err()
}

func (c *RedisTokenCache) Clear(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

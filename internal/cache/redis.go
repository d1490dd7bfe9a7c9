package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// invalidateScript deletes every key tracked in the namespace index sets and
// the sets themselves, and bumps each namespace generation, in one atomic
// step. KEYS holds ARGV[1] index keys followed by as many generation keys.
var invalidateScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local removed = 0
for i = 1, n do
  local members = redis.call("SMEMBERS", KEYS[i])
  for _, key in ipairs(members) do
    removed = removed + redis.call("DEL", key)
  end
  redis.call("DEL", KEYS[i])
  redis.call("INCR", KEYS[n + i])
end
return removed
`)

// setIfGenerationScript stores a value and indexes it only while the
// namespace generation equals ARGV[1].
// KEYS: generation, value key, index. ARGV: generation, data, ttl in ms.
var setIfGenerationScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current ~= tonumber(ARGV[1]) then
  return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("SET", KEYS[2], ARGV[2], "PX", ttl)
else
  redis.call("SET", KEYS[2], ARGV[2])
end
redis.call("SADD", KEYS[3], KEYS[2])
return 1
`)

// RedisCache is a Cache backed by Redis. Each namespace keeps an index set of
// its keys so it can be dropped without SCAN.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a cache using client. Keys are prefixed with prefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "ledger:cache"
	}
	return &RedisCache{client: client, prefix: trimmed}
}

// Connect parses url, creates a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache) key(namespace, name string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, namespace, name)
}

func (c *RedisCache) index(namespace string) string {
	return fmt.Sprintf("%s:idx:%s", c.prefix, namespace)
}

func (c *RedisCache) generation(namespace string) string {
	return fmt.Sprintf("%s:gen:%s", c.prefix, namespace)
}

// Get decodes a cached value into dst.
func (c *RedisCache) Get(ctx context.Context, namespace, name string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, c.key(namespace, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode cached %s/%s: %w", namespace, name, err)
	}
	return true, nil
}

// Set stores value and records its key in the namespace index.
func (c *RedisCache) Set(ctx context.Context, namespace, name string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %s/%s: %w", namespace, name, err)
	}
	if ttl < 0 {
		ttl = 0
	}

	key := c.key(namespace, name)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.SAdd(ctx, c.index(namespace), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SetIfGeneration stores value while namespace is still at gen.
func (c *RedisCache) SetIfGeneration(ctx context.Context, namespace, name string, value any, ttl time.Duration, gen uint64) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode cached %s/%s: %w", namespace, name, err)
	}
	if ttl < 0 {
		ttl = 0
	}

	keys := []string{c.generation(namespace), c.key(namespace, name), c.index(namespace)}
	stored, err := setIfGenerationScript.Run(ctx, c.client, keys, gen, data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis set if generation: %w", err)
	}
	return stored == 1, nil
}

// Generation returns the invalidation count of namespace.
func (c *RedisCache) Generation(ctx context.Context, namespace string) (uint64, error) {
	gen, err := c.client.Get(ctx, c.generation(namespace)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis generation: %w", err)
	}
	return gen, nil
}

// Invalidate drops the namespaces.
func (c *RedisCache) Invalidate(ctx context.Context, namespaces ...string) error {
	if len(namespaces) == 0 {
		return nil
	}
	keys := make([]string, 2*len(namespaces))
	for i, ns := range namespaces {
		keys[i] = c.index(ns)
		keys[len(namespaces)+i] = c.generation(ns)
	}
	if err := invalidateScript.Run(ctx, c.client, keys, len(namespaces)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

// Verify interface compliance at compile time.
var _ Cache = (*RedisCache)(nil)

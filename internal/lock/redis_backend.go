package lock

import (
	"context"
	"fmt"
	"time"

	"boxoffice/internal/pkg/redis"
)

const (
	releaseScriptName = "lock_release"
	extendScriptName  = "lock_extend"

	// Delete only when the stored token matches the caller's.
	releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0`

	// Refresh the expiry only when the stored token matches.
	extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`
)

// RedisBackend implements Backend on one redis instance using
// SET NX PX for acquisition and token-fenced Lua scripts for release
// and extension.
type RedisBackend struct {
	name   string
	client *redis.Client
}

// NewRedisBackend wraps client as a lock backend. The compare-and-delete
// scripts are registered on construction.
func NewRedisBackend(name string, client *redis.Client) (*RedisBackend, error) {
	if err := client.LoadScriptFromContent(releaseScriptName, releaseScript); err != nil {
		return nil, fmt.Errorf("load release script: %w", err)
	}
	if err := client.LoadScriptFromContent(extendScriptName, extendScript); err != nil {
		return nil, fmt.Errorf("load extend script: %w", err)
	}
	return &RedisBackend{name: name, client: client}, nil
}

func (b *RedisBackend) Name() string { return b.name }

func (b *RedisBackend) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return b.client.GetClient().SetNX(ctx, lockKey(key), token, ttl).Result()
}

func (b *RedisBackend) Release(ctx context.Context, key, token string) (bool, error) {
	res, err := b.client.RunScript(ctx, releaseScriptName, []string{lockKey(key)}, token)
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from release script: %T", res)
	}
	return n == 1, nil
}

func (b *RedisBackend) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := b.client.RunScript(ctx, extendScriptName, []string{lockKey(key)}, token, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from extend script: %T", res)
	}
	return n == 1, nil
}

func lockKey(key string) string {
	return "lock:{" + key + "}"
}

package redis

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client and a registry of named Lua scripts.
// Scripts are registered once at startup; RunScript uses EVALSHA with an
// automatic fallback to EVAL when the script cache was flushed.
type Client struct {
	rdb     *goredis.Client
	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient connects to a single redis instance.
func NewClient(addr, password string) *Client {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
	})
	return &Client{
		rdb:     rdb,
		scripts: make(map[string]*goredis.Script),
	}
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetClient exposes the underlying go-redis client for plain commands.
func (c *Client) GetClient() *goredis.Client {
	return c.rdb
}

// LoadScriptFromContent registers a named Lua script.
func (c *Client) LoadScriptFromContent(name, content string) error {
	if content == "" {
		return fmt.Errorf("script %q is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

// RunScript executes a previously registered script.
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %q is not registered", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

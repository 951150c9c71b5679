package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/release_claim.lua
var releaseClaimScript string

//go:embed scripts/complete_claim.lua
var completeClaimScript string

// PendingPrefix marks an idempotency key whose request is still running
const PendingPrefix = "pending:"

type Client struct {
	rdb            *redis.Client
	releaseScript  *redis.Script
	completeScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:            rdb,
		releaseScript:  redis.NewScript(releaseClaimScript),
		completeScript: redis.NewScript(completeClaimScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// Claim takes ownership of an idempotency key for ttl. When the key is
// already taken it returns claimed=false and the stored result, which is
// empty while the owning request is still running.
func (c *Client) Claim(ctx context.Context, key, marker string, ttl time.Duration) (bool, string, error) {
	ok, err := c.rdb.SetNX(ctx, idempotencyKey(key), PendingPrefix+marker, ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("idempotency claim failed: %w", err)
	}
	if ok {
		return true, "", nil
	}

	value, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if err == redis.Nil {
		// expired between SETNX and GET
		return c.Claim(ctx, key, marker, ttl)
	}
	if err != nil {
		return false, "", fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if strings.HasPrefix(value, PendingPrefix) {
		return false, "", nil
	}
	return false, value, nil
}

// Complete replaces the claim with the request result, if marker still owns it
func (c *Client) Complete(ctx context.Context, key, marker, result string, ttl time.Duration) error {
	_, err := c.completeScript.Run(ctx, c.rdb, []string{idempotencyKey(key)},
		PendingPrefix+marker, result, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("complete claim script failed: %w", err)
	}
	return nil
}

// Release drops the claim so the request can be retried, if marker still owns it
func (c *Client) Release(ctx context.Context, key, marker string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{idempotencyKey(key)}, PendingPrefix+marker).Result()
	if err != nil {
		return fmt.Errorf("release claim script failed: %w", err)
	}
	return nil
}

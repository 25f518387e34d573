package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"payments-webhook/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/claim_key.lua
var claimKeyScript string

type Client struct {
	rdb         *redis.Client
	claimScript *redis.Script
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

	return &Client{
		rdb:         rdb,
		claimScript: redis.NewScript(claimKeyScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ClaimKey atomically reads key and, when it is neither processing nor
// processed, sets it to processing with ttl. The returned state is the one
// observed before the claim, so ClaimFree means the caller now holds the key.
func (c *Client) ClaimKey(ctx context.Context, key string, ttl time.Duration) (models.ClaimState, error) {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	result, err := c.claimScript.Run(ctx, c.rdb, []string{key}, seconds).Result()
	if err != nil {
		return "", fmt.Errorf("claim key script failed: %w", err)
	}

	state, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("unexpected script result type %T", result)
	}

	switch models.ClaimState(state) {
	case models.ClaimFree, models.ClaimProcessing, models.ClaimProcessed:
		return models.ClaimState(state), nil
	}
	return "", fmt.Errorf("unexpected claim state %q", state)
}

// SetKey overwrites key with value and ttl
func (c *Client) SetKey(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// DeleteKey removes key
func (c *Client) DeleteKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rental-service/internal/models"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
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

	return NewWithRedis(rdb), nil
}

// NewWithRedis wraps an existing redis client
func NewWithRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func pricingKey(templateID int64) string {
	return fmt.Sprintf("pricing:template:%d", templateID)
}

// GetPricingRules returns the cached pricing rules of a template. ok is false
// on a cache miss.
func (c *Client) GetPricingRules(ctx context.Context, templateID int64) (rules []models.PricingRule, ok bool, err error) {
	data, err := c.rdb.Get(ctx, pricingKey(templateID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached pricing rules: %w", err)
	}
	return rules, true, nil
}

// SetPricingRules caches the pricing rules of a template
func (c *Client) SetPricingRules(ctx context.Context, templateID int64, rules []models.PricingRule, ttl time.Duration) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to encode pricing rules: %w", err)
	}
	return c.rdb.Set(ctx, pricingKey(templateID), data, ttl).Err()
}

// InvalidatePricingRules drops the cached pricing rules of a template
func (c *Client) InvalidatePricingRules(ctx context.Context, templateID int64) error {
	return c.rdb.Del(ctx, pricingKey(templateID)).Err()
}

// ClaimIdempotencyKey records key if it was not seen before. It returns false
// when the key is already claimed.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), "1", ttl).Result()
}

// ReleaseIdempotencyKey forgets a claimed key so the request can be retried
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}

package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb        *redis.Client
	sessionTTL time.Duration
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int, sessionTTL time.Duration) (*Client, error) {
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

	return &Client{rdb: rdb, sessionTTL: sessionTTL}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetCheckoutSession caches a gateway checkout session for an order so
// repeated startPayment calls reuse it instead of creating duplicates.
func (c *Client) SetCheckoutSession(ctx context.Context, orderID int64, sessionID, url string) error {
	key := fmt.Sprintf("checkout_session:%d", orderID)

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, "session_id", sessionID)
	pipe.HSet(ctx, key, "url", url)
	pipe.Expire(ctx, key, c.sessionTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// GetCheckoutSession retrieves a cached session; empty values mean a miss.
func (c *Client) GetCheckoutSession(ctx context.Context, orderID int64) (string, string, error) {
	key := fmt.Sprintf("checkout_session:%d", orderID)

	result, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return "", "", err
	}
	return result["session_id"], result["url"], nil
}

// DeleteCheckoutSession drops the cached session for an order
func (c *Client) DeleteCheckoutSession(ctx context.Context, orderID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("checkout_session:%d", orderID)).Err()
}

// MarkEventSeen records a webhook event id, returning true only on the first
// sighting. Fast-path dedup in front of the processed_events table; the table
// stays authoritative because this key expires.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("webhook_event:%s", eventID), "1", 24*time.Hour).Result()
}

// UnmarkEventSeen clears the dedup key for an event whose effects did not
// commit, so the sender's redelivery is processed instead of dropped.
func (c *Client) UnmarkEventSeen(ctx context.Context, eventID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("webhook_event:%s", eventID)).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence keys carry a TTL so a crashed gateway cannot leave users online
// forever; the gateway refreshes on reconnect and deletes on last disconnect.
const presenceTTL = 5 * time.Minute

const keyPrefix = "presence:"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) MarkOnline(ctx context.Context, userID string) error {
	return c.cli.Set(ctx, keyPrefix+userID, "1", presenceTTL).Err()
}

func (c *Client) MarkOffline(ctx context.Context, userID string) error {
	return c.cli.Del(ctx, keyPrefix+userID).Err()
}

func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.cli.Exists(ctx, keyPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

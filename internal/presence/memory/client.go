package memory

import (
	"context"
	"sync"
	"time"
)

const presenceTTL = 5 * time.Minute

// Client is the in-memory presence mirror for -dev runs without Redis.
type Client struct {
	mu     sync.RWMutex
	online map[string]time.Time
}

func New() *Client {
	return &Client{online: make(map[string]time.Time)}
}

func (c *Client) Close() error { return nil }

func (c *Client) MarkOnline(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[userID] = time.Now().Add(presenceTTL)
	return nil
}

func (c *Client) MarkOffline(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.online, userID)
	return nil
}

func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exp, ok := c.online[userID]
	if !ok {
		return false, nil
	}
	return time.Now().Before(exp), nil
}

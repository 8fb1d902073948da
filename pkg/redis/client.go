// Package redis opens the Redis connection shared by the check-in server and
// the delivery worker.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// healthTimeout bounds the ping behind GET /health.
const healthTimeout = 2 * time.Second

// Client is the shared connection. Session revocations, the delivery queue,
// the reconcile run lock and the live admission feed all use it.
type Client struct {
	*redis.Client
	addr   string
	logger *zap.Logger
}

// NewClient connects and pings once so a wrong address fails at startup
// rather than on the first scan.
func NewClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	logger.Info("redis connected", zap.String("addr", addr), zap.Int("db", db))
	return &Client{Client: rdb, addr: addr, logger: logger}, nil
}

// Healthy pings Redis with a short deadline.
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.logger.Warn("redis health check failed", zap.String("addr", c.addr), zap.Error(err))
		return err
	}
	return nil
}

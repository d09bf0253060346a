// Package redis backs tickbook's hot-path side state with go-redis/v9: the
// last-observed tick per (market, outcome) lane, the engine event fabric,
// and placement rate limits. Every key, channel, and stream name lives under
// a deployment namespace so several books can share one Redis.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultNamespace prefixes keys when the config leaves the namespace empty.
const defaultNamespace = "tickbook"

// connectTimeout bounds the startup connectivity check.
const connectTimeout = 5 * time.Second

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	Namespace  string
}

// Client wraps a go-redis Client and owns the key namespace shared by the
// tick cache, the signal bus, and the rate limiter.
type Client struct {
	rdb *redis.Client
	ns  string
}

// New creates a Redis Client, verifies connectivity within a bounded
// timeout, and returns the wrapper.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}

	return &Client{rdb: rdb, ns: ns}, nil
}

// Key builds a namespaced key, channel, or stream name from its parts.
func (c *Client) Key(parts ...string) string {
	return c.ns + ":" + strings.Join(parts, ":")
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client for the interface implementations
// in this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

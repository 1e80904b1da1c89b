// Package kv is the single place that constructs the shared Redis
// connection used by the rate limiter and job state store, mirroring the
// way the rest of this codebase keeps one config-driven constructor per
// external dependency.
package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client wraps the shared redis.Client connection. Collaborators receive
// the underlying client through Raw.
type Client struct {
	rdb *redis.Client
}

// Open parses url (e.g. "redis://host:6379/0") and returns a connected
// Client. The connection is verified with a PING before returning.
func Open(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing kv url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to kv store: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Raw exposes the underlying redis.Client for collaborators that need
// direct access (e.g. Eval of Lua scripts, hash commands).
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

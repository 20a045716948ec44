// Package redisclient backs the catalog count cache and the per-user order lock.
package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const DefaultNamespace = "storefront"

// Options configures the connection and key namespace
type Options struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// Client keeps every key under its namespace, e.g. storefront:lock:order:user:7
type Client struct {
	rdb           *redis.Client
	namespace     string
	releaseScript *redis.Script
}

// NewClient dials redis and fails fast when it cannot be pinged
func NewClient(opts Options) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	return NewClientFromRedis(rdb, opts.Namespace), nil
}

// NewClientFromRedis wraps an existing connection; an empty namespace means DefaultNamespace
func NewClientFromRedis(rdb *redis.Client, namespace string) *Client {
	namespace = strings.TrimSuffix(namespace, ":")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Client{
		rdb:           rdb,
		namespace:     namespace,
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

func (c *Client) key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping is used by the readiness probe
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetProductCount returns the cached catalog size; ok is false on a miss
func (c *Client) GetProductCount(ctx context.Context) (count int64, ok bool, err error) {
	val, err := c.rdb.Get(ctx, c.key("catalog", "product_count")).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	count, err = strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid cached product count %q: %w", val, err)
	}
	return count, true, nil
}

func (c *Client) SetProductCount(ctx context.Context, count int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key("catalog", "product_count"), count, ttl).Err()
}

// AcquireLock takes name with SET NX and returns the owner token.
// ok is false when someone else holds it.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.New().String()
	ok, err = c.rdb.SetNX(ctx, c.key("lock", name), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock deletes the lock only while token still owns it
func (c *Client) ReleaseLock(ctx context.Context, name, token string) error {
	if err := c.releaseScript.Run(ctx, c.rdb, []string{c.key("lock", name)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

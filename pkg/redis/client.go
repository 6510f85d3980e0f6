package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/petal/pkg/metrics"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("redis: key not found")

type Config struct {
	Host        string
	Port        int
	Password    string
	DB          int
	DialTimeout time.Duration
}

// Client wraps go-redis with logging and operation timing.
type Client struct {
	rdb         redis.UniversalClient
	logger      ectologger.Logger
	addr        string
	dialTimeout time.Duration
}

// New builds a client without contacting the server.
func New(cfg Config, logger ectologger.Logger) *Client {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	c := NewClientFromRedis(redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	}), logger)
	c.addr = addr
	c.dialTimeout = dialTimeout
	return c
}

// NewClient connects and pings the server.
func NewClient(ctx context.Context, cfg Config, logger ectologger.Logger) (*Client, error) {
	c := New(cfg, logger)
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Connect pings the server within the dial timeout.
func (c *Client) Connect(ctx context.Context) error {
	timeout := c.dialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.Ping(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", c.addr, err)
	}
	c.logger.Infof("Connected to Redis at %s", c.addr)
	return nil
}

// NewClientFromRedis wraps an existing go-redis client.
func NewClientFromRedis(rdb redis.UniversalClient, logger ectologger.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	defer observe("ping", time.Now())
	return c.rdb.Ping(ctx).Err()
}

// Get returns ErrNotFound for a missing key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	defer observe("get", time.Now())
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return value, err
}

func (c *Client) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	defer observe("set", time.Now())
	return c.rdb.Set(ctx, key, value, expiration).Err()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	defer observe("del", time.Now())
	return c.rdb.Del(ctx, keys...).Err()
}

func observe(operation string, start time.Time) {
	metrics.RecordRedisOperation(operation, time.Since(start).Seconds())
}

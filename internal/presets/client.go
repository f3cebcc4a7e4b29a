package presets

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Nil is returned when a key does not exist.
var Nil = redis.Nil

// ClientConfig holds the Redis connection settings for the preset
// store.
type ClientConfig struct {
	Addr            string
	Password        string
	DB              int
	PoolSize        int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultClientConfig returns settings suitable for a local Redis.
func DefaultClientConfig(addr string) *ClientConfig {
	return &ClientConfig{
		Addr:            addr,
		PoolSize:        4,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Client wraps go-redis for the preset store.
type Client struct {
	config *ClientConfig
	client *redis.Client
}

// NewClient creates an unconnected Client.
func NewClient(config *ClientConfig) *Client {
	return &Client{config: config}
}

// Connect establishes and verifies the connection.
func (c *Client) Connect(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:            c.config.Addr,
		Password:        c.config.Password,
		DB:              c.config.DB,
		PoolSize:        c.config.PoolSize,
		DialTimeout:     c.config.DialTimeout,
		ReadTimeout:     c.config.ReadTimeout,
		WriteTimeout:    c.config.WriteTimeout,
		ConnMaxIdleTime: c.config.ConnMaxIdleTime,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	c.client = client
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Ping tests the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get retrieves the value of a key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// Set sets the value of a key.
func (c *Client) Set(ctx context.Context, key string, value interface{}) error {
	return c.client.Set(ctx, key, value, 0).Err()
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	return c.client.Del(ctx, keys...).Result()
}

// Keys returns every key matching pattern.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	return c.client.Keys(ctx, pattern).Result()
}

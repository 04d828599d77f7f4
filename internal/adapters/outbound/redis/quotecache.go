// Package redis provides a Redis implementation of the QuoteCache port.
//
// Cached quotes expire on a configurable TTL so a stalled refresh worker
// cannot keep serving old prices through the read API. Keys use the format
// prefix:adapter:<address>:<kind>.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

// Compile-time check that QuoteCache implements outbound.QuoteCache
var _ outbound.QuoteCache = (*QuoteCache)(nil)

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// TTL is how long cached quotes live before expiring
	TTL time.Duration
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for Redis cache configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		TTL:       5 * time.Minute,
		KeyPrefix: "oracle",
	}
}

// QuoteCache is a Redis implementation of the outbound.QuoteCache port.
type QuoteCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewQuoteCache creates a new Redis quote cache.
func NewQuoteCache(cfg Config, logger *slog.Logger) (*QuoteCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "redis-cache")

	return &QuoteCache{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
	}, nil
}

// Ping checks the Redis connection.
func (c *QuoteCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *QuoteCache) Close() error {
	return c.client.Close()
}

// key generates a cache key in the format prefix:adapter:<address>:<kind>
func (c *QuoteCache) key(address [20]byte, kind string) string {
	return fmt.Sprintf("%s:adapter:%s:%s", c.keyPrefix, outbound.HexAddress(address), kind)
}

// cachedQuote is the stored form of a latest quote.
type cachedQuote struct {
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime uint64 `json:"publishTime"`
}

// cachedTWAP is the stored form of a computed TWAP.
type cachedTWAP struct {
	Price      int64  `json:"price"`
	ComputedAt uint64 `json:"computedAt"`
}

// SetLatest stores the latest normalized quote for an adapter.
func (c *QuoteCache) SetLatest(ctx context.Context, address [20]byte, quote entity.PriceQuote) error {
	payload, err := json.Marshal(cachedQuote{
		Price:       quote.Price,
		Conf:        quote.Conf,
		Expo:        quote.Expo,
		PublishTime: quote.PublishTime,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}
	key := c.key(address, "latest")
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache quote: %w", err)
	}
	return nil
}

// GetLatest retrieves the cached latest quote.
func (c *QuoteCache) GetLatest(ctx context.Context, address [20]byte) (entity.PriceQuote, error) {
	key := c.key(address, "latest")
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.PriceQuote{}, outbound.ErrCacheMiss
	}
	if err != nil {
		return entity.PriceQuote{}, fmt.Errorf("failed to get quote: %w", err)
	}

	var stored cachedQuote
	if err := json.Unmarshal(data, &stored); err != nil {
		return entity.PriceQuote{}, fmt.Errorf("failed to unmarshal quote: %w", err)
	}
	return entity.PriceQuote{
		Price:       stored.Price,
		Conf:        stored.Conf,
		Expo:        stored.Expo,
		PublishTime: stored.PublishTime,
	}, nil
}

// SetTWAP stores the most recently computed TWAP for an adapter.
func (c *QuoteCache) SetTWAP(ctx context.Context, address [20]byte, price int64, computedAt uint64) error {
	payload, err := json.Marshal(cachedTWAP{Price: price, ComputedAt: computedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal TWAP: %w", err)
	}
	key := c.key(address, "twap")
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache TWAP: %w", err)
	}
	return nil
}

// GetTWAP retrieves the cached TWAP.
func (c *QuoteCache) GetTWAP(ctx context.Context, address [20]byte) (int64, uint64, error) {
	key := c.key(address, "twap")
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, 0, outbound.ErrCacheMiss
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get TWAP: %w", err)
	}

	var stored cachedTWAP
	if err := json.Unmarshal(data, &stored); err != nil {
		return 0, 0, fmt.Errorf("failed to unmarshal TWAP: %w", err)
	}
	return stored.Price, stored.ComputedAt, nil
}

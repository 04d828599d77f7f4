package memory

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

// Compile-time check that QuoteCache implements the port
var _ outbound.QuoteCache = (*QuoteCache)(nil)

type cachedQuote struct {
	quote     entity.PriceQuote
	expiresAt time.Time
}

type cachedTWAP struct {
	price      int64
	computedAt uint64
	expiresAt  time.Time
}

// QuoteCache is an in-memory implementation of outbound.QuoteCache with
// per-entry TTL. Expired entries are dropped lazily on read.
type QuoteCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	latest map[[20]byte]cachedQuote
	twaps  map[[20]byte]cachedTWAP
	now    func() time.Time
}

// NewQuoteCache creates a new in-memory quote cache. A zero ttl means
// entries never expire.
func NewQuoteCache(ttl time.Duration) *QuoteCache {
	return &QuoteCache{
		ttl:    ttl,
		latest: make(map[[20]byte]cachedQuote),
		twaps:  make(map[[20]byte]cachedTWAP),
		now:    time.Now,
	}
}

func (c *QuoteCache) expiry() time.Time {
	if c.ttl == 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func expired(expiresAt time.Time, now time.Time) bool {
	return !expiresAt.IsZero() && now.After(expiresAt)
}

// SetLatest stores the latest quote for an adapter.
func (c *QuoteCache) SetLatest(ctx context.Context, address [20]byte, quote entity.PriceQuote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[address] = cachedQuote{quote: quote, expiresAt: c.expiry()}
	return nil
}

// GetLatest retrieves the cached latest quote.
func (c *QuoteCache) GetLatest(ctx context.Context, address [20]byte) (entity.PriceQuote, error) {
	c.mu.RLock()
	entry, ok := c.latest[address]
	c.mu.RUnlock()

	if !ok || expired(entry.expiresAt, c.now()) {
		return entity.PriceQuote{}, outbound.ErrCacheMiss
	}
	return entry.quote, nil
}

// SetTWAP stores the most recently computed TWAP for an adapter.
func (c *QuoteCache) SetTWAP(ctx context.Context, address [20]byte, price int64, computedAt uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.twaps[address] = cachedTWAP{price: price, computedAt: computedAt, expiresAt: c.expiry()}
	return nil
}

// GetTWAP retrieves the cached TWAP.
func (c *QuoteCache) GetTWAP(ctx context.Context, address [20]byte) (int64, uint64, error) {
	c.mu.RLock()
	entry, ok := c.twaps[address]
	c.mu.RUnlock()

	if !ok || expired(entry.expiresAt, c.now()) {
		return 0, 0, outbound.ErrCacheMiss
	}
	return entry.price, entry.computedAt, nil
}

// Close clears the cache.
func (c *QuoteCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = make(map[[20]byte]cachedQuote)
	c.twaps = make(map[[20]byte]cachedTWAP)
	return nil
}

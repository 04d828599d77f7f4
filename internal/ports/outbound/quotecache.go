package outbound

import (
	"context"
	"errors"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
)

// ErrCacheMiss is returned when no cached value exists for the key.
var ErrCacheMiss = errors.New("cache miss")

// QuoteCache stores the most recently computed quotes per adapter so the
// read API can serve without touching the adapters. Entries expire on a
// TTL; a miss is not an error condition for callers, who fall through to
// the adapter itself.
type QuoteCache interface {
	// SetLatest stores the latest normalized quote for an adapter.
	SetLatest(ctx context.Context, address [20]byte, quote entity.PriceQuote) error

	// GetLatest retrieves the cached latest quote.
	// Returns ErrCacheMiss when absent or expired.
	GetLatest(ctx context.Context, address [20]byte) (entity.PriceQuote, error)

	// SetTWAP stores the most recently computed TWAP for an adapter.
	SetTWAP(ctx context.Context, address [20]byte, price int64, computedAt uint64) error

	// GetTWAP retrieves the cached TWAP. Returns ErrCacheMiss when absent.
	GetTWAP(ctx context.Context, address [20]byte) (int64, uint64, error)

	// Close closes the cache connection.
	Close() error
}

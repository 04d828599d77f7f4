// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
)

// DeployRequest describes an adapter to register through the factory.
type DeployRequest struct {
	Name         string
	Kind         entity.AdapterKind
	ChainID      int
	OwnerToken   string
	FeedID       [32]byte
	Expo         int32
	FixedPrice   int64
	TwapInterval uint32
	MaxPriceAge  uint32
	Salt         [32]byte
}

// AdapterDirectory is what inbound adapters (HTTP, CLI) need from the
// application: adapter discovery, price reads, and the owner-gated
// configuration surface. Reads are unrestricted; configuration requires the
// owner capability token.
type AdapterDirectory interface {
	// ListAdapters returns all enabled adapter registrations.
	ListAdapters(ctx context.Context) ([]*entity.Adapter, error)

	// DescribeAdapter returns one adapter registration.
	DescribeAdapter(ctx context.Context, address [20]byte) (*entity.Adapter, error)

	// LatestPrice returns the newest normalized quote for an adapter.
	LatestPrice(ctx context.Context, address [20]byte) (entity.PriceQuote, error)

	// TWAP returns the time-weighted average price of a TWAP adapter over
	// its configured trailing window, computed at now.
	TWAP(ctx context.Context, address [20]byte, now uint64) (int64, error)

	// Deploy registers a new adapter deterministically.
	Deploy(ctx context.Context, req DeployRequest) (*entity.Adapter, error)

	// SetManualPrice pushes a new value to a manual adapter.
	SetManualPrice(ctx context.Context, address [20]byte, ownerToken string, price int64, conf uint64, publishTime uint64) error

	// SetTwapInterval changes the trailing window of a TWAP adapter.
	SetTwapInterval(ctx context.Context, address [20]byte, ownerToken string, interval uint32) error

	// SetMaxPriceAge changes the staleness bound of an adapter.
	SetMaxPriceAge(ctx context.Context, address [20]byte, ownerToken string, age uint32) error
}

// HealthChecker reports readiness and liveness for rolling deployments.
type HealthChecker interface {
	// IsReady returns true once adapters are loaded and serving.
	IsReady() bool

	// IsHealthy returns true while the refresh loop is making progress.
	IsHealthy() bool
}

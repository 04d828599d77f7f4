package outbound

import (
	"context"
	"errors"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
)

// ErrAdapterNotFound is returned when no adapter is registered under the
// requested address.
var ErrAdapterNotFound = errors.New("adapter not found")

// AdapterRepository persists adapter registrations and the accepted
// observations of TWAP adapters. Observations are a durable mirror of the
// in-memory history buffer, used for warm starts after a restart and for
// diagnostics; the buffer itself remains the source of truth for reads.
type AdapterRepository interface {
	// GetAdapter retrieves an adapter by its deterministic address.
	// Returns ErrAdapterNotFound (possibly wrapped) when absent.
	GetAdapter(ctx context.Context, address [20]byte) (*entity.Adapter, error)

	// ListEnabledAdapters returns all enabled adapters ordered by name.
	ListEnabledAdapters(ctx context.Context) ([]*entity.Adapter, error)

	// InsertAdapter registers a new adapter.
	InsertAdapter(ctx context.Context, adapter *entity.Adapter) error

	// UpdateAdapterConfig persists new window/staleness settings.
	UpdateAdapterConfig(ctx context.Context, address [20]byte, twapInterval, maxPriceAge uint32) error

	// InsertObservation appends an accepted observation.
	InsertObservation(ctx context.Context, obs *entity.StoredObservation) error

	// GetRecentObservations returns up to limit observations for an
	// adapter, newest first.
	GetRecentObservations(ctx context.Context, address [20]byte, limit int) ([]*entity.StoredObservation, error)
}

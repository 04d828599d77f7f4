// Package memory provides in-memory implementations of the outbound ports.
// Useful for testing and local development without external infrastructure.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

// Compile-time check that AdapterRepository implements the port
var _ outbound.AdapterRepository = (*AdapterRepository)(nil)

// AdapterRepository is an in-memory implementation of
// outbound.AdapterRepository.
type AdapterRepository struct {
	mu           sync.RWMutex
	adapters     map[[20]byte]*entity.Adapter
	observations map[[20]byte][]*entity.StoredObservation
	nextID       int64
}

// NewAdapterRepository creates a new in-memory adapter repository.
func NewAdapterRepository() *AdapterRepository {
	return &AdapterRepository{
		adapters:     make(map[[20]byte]*entity.Adapter),
		observations: make(map[[20]byte][]*entity.StoredObservation),
		nextID:       1,
	}
}

// GetAdapter returns the adapter registered at address.
func (r *AdapterRepository) GetAdapter(ctx context.Context, address [20]byte) (*entity.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[address]
	if !ok {
		return nil, outbound.ErrAdapterNotFound
	}
	cp := *adapter
	return &cp, nil
}

// ListEnabledAdapters returns all enabled adapters.
func (r *AdapterRepository) ListEnabledAdapters(ctx context.Context) ([]*entity.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.Adapter, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		if adapter.Enabled {
			cp := *adapter
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// InsertAdapter stores a new adapter registration.
func (r *AdapterRepository) InsertAdapter(ctx context.Context, adapter *entity.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *adapter
	r.adapters[adapter.Address] = &cp
	return nil
}

// UpdateAdapterConfig updates the mutable configuration of an adapter.
func (r *AdapterRepository) UpdateAdapterConfig(ctx context.Context, address [20]byte, twapInterval, maxPriceAge uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	adapter, ok := r.adapters[address]
	if !ok {
		return outbound.ErrAdapterNotFound
	}
	adapter.TwapInterval = twapInterval
	adapter.MaxPriceAge = maxPriceAge
	return nil
}

// InsertObservation appends an accepted observation.
func (r *AdapterRepository) InsertObservation(ctx context.Context, obs *entity.StoredObservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *obs
	cp.ID = r.nextID
	r.nextID++
	r.observations[obs.AdapterAddress] = append(r.observations[obs.AdapterAddress], &cp)
	return nil
}

// GetRecentObservations returns up to limit observations, newest first.
func (r *AdapterRepository) GetRecentObservations(ctx context.Context, address [20]byte, limit int) ([]*entity.StoredObservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.observations[address]
	out := make([]*entity.StoredObservation, 0, len(stored))
	for _, obs := range stored {
		cp := *obs
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishTime > out[j].PublishTime })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// adapter_repository.go provides a PostgreSQL implementation of AdapterRepository.
//
// This adapter persists adapter registrations and accepted observations for
// durable storage. Observations mirror the in-memory history buffers so TWAP
// adapters can warm-start after a restart; the buffer remains the read path.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

// Compile-time check that AdapterRepository implements outbound.AdapterRepository
var _ outbound.AdapterRepository = (*AdapterRepository)(nil)

// AdapterRepository is a PostgreSQL implementation of the
// outbound.AdapterRepository port.
type AdapterRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAdapterRepository creates a new PostgreSQL adapter repository.
// Returns an error if the pool is nil.
func NewAdapterRepository(pool *pgxpool.Pool, logger *slog.Logger) (*AdapterRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdapterRepository{
		pool:   pool,
		logger: logger.With("component", "adapter-repository"),
	}, nil
}

const adapterColumns = `address, name, kind, chain_id, owner_token, feed_id,
	expo, fixed_price, twap_interval, max_price_age, salt, enabled, created_at, updated_at`

// GetAdapter retrieves an adapter by its deterministic address.
func (r *AdapterRepository) GetAdapter(ctx context.Context, address [20]byte) (*entity.Adapter, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+adapterColumns+` FROM oracle_adapter WHERE address = $1`,
		address[:])

	adapter, err := scanAdapter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %x", outbound.ErrAdapterNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get adapter: %w", err)
	}
	return adapter, nil
}

// ListEnabledAdapters returns all enabled adapters ordered by name.
func (r *AdapterRepository) ListEnabledAdapters(ctx context.Context) ([]*entity.Adapter, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+adapterColumns+` FROM oracle_adapter WHERE enabled ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list adapters: %w", err)
	}
	defer rows.Close()

	var adapters []*entity.Adapter
	for rows.Next() {
		adapter, err := scanAdapter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adapter: %w", err)
		}
		adapters = append(adapters, adapter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate adapters: %w", err)
	}
	return adapters, nil
}

// InsertAdapter registers a new adapter.
func (r *AdapterRepository) InsertAdapter(ctx context.Context, adapter *entity.Adapter) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO oracle_adapter (`+adapterColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		adapter.Address[:],
		adapter.Name,
		string(adapter.Kind),
		adapter.ChainID,
		adapter.OwnerToken[:],
		adapter.FeedID[:],
		adapter.Expo,
		adapter.FixedPrice,
		int64(adapter.TwapInterval),
		int64(adapter.MaxPriceAge),
		adapter.Salt[:],
		adapter.Enabled,
		adapter.CreatedAt,
		adapter.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert adapter: %w", err)
	}
	return nil
}

// UpdateAdapterConfig persists new window/staleness settings.
func (r *AdapterRepository) UpdateAdapterConfig(ctx context.Context, address [20]byte, twapInterval, maxPriceAge uint32) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE oracle_adapter
		SET twap_interval = $2, max_price_age = $3, updated_at = NOW()
		WHERE address = $1`,
		address[:], int64(twapInterval), int64(maxPriceAge))
	if err != nil {
		return fmt.Errorf("failed to update adapter config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %x", outbound.ErrAdapterNotFound, address)
	}
	return nil
}

// InsertObservation appends an accepted observation. Re-inserting the same
// (adapter, publishTime) pair is a no-op so restarts cannot duplicate history.
func (r *AdapterRepository) InsertObservation(ctx context.Context, obs *entity.StoredObservation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO adapter_observation (adapter_address, price, publish_time, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (adapter_address, publish_time) DO NOTHING`,
		obs.AdapterAddress[:], obs.Price, int64(obs.PublishTime), obs.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}
	return nil
}

// GetRecentObservations returns up to limit observations for an adapter,
// newest first.
func (r *AdapterRepository) GetRecentObservations(ctx context.Context, address [20]byte, limit int) ([]*entity.StoredObservation, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, adapter_address, price, publish_time, created_at
		FROM adapter_observation
		WHERE adapter_address = $1
		ORDER BY publish_time DESC
		LIMIT $2`,
		address[:], limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var observations []*entity.StoredObservation
	for rows.Next() {
		var (
			obs         entity.StoredObservation
			rawAddress  []byte
			publishTime int64
		)
		if err := rows.Scan(&obs.ID, &rawAddress, &obs.Price, &publishTime, &obs.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		copy(obs.AdapterAddress[:], rawAddress)
		obs.PublishTime = uint64(publishTime)
		observations = append(observations, &obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate observations: %w", err)
	}
	return observations, nil
}

// scanAdapter reads one adapter row from a pgx row scanner.
func scanAdapter(row pgx.Row) (*entity.Adapter, error) {
	var (
		adapter      entity.Adapter
		rawAddress   []byte
		kind         string
		rawToken     []byte
		rawFeedID    []byte
		twapInterval int64
		maxPriceAge  int64
		rawSalt      []byte
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := row.Scan(
		&rawAddress,
		&adapter.Name,
		&kind,
		&adapter.ChainID,
		&rawToken,
		&rawFeedID,
		&adapter.Expo,
		&adapter.FixedPrice,
		&twapInterval,
		&maxPriceAge,
		&rawSalt,
		&adapter.Enabled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	copy(adapter.Address[:], rawAddress)
	copy(adapter.OwnerToken[:], rawToken)
	copy(adapter.FeedID[:], rawFeedID)
	copy(adapter.Salt[:], rawSalt)
	adapter.Kind = entity.AdapterKind(kind)
	adapter.TwapInterval = uint32(twapInterval)
	adapter.MaxPriceAge = uint32(maxPriceAge)
	adapter.CreatedAt = createdAt
	adapter.UpdatedAt = updatedAt
	return &adapter, nil
}

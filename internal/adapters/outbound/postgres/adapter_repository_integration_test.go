//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
	"github.com/archon-research/paymaster-oracle/internal/services/shared"
	"github.com/archon-research/paymaster-oracle/internal/testutil"
)

func setupRepository(t *testing.T) (*AdapterRepository, *pgxpool.Pool) {
	t.Helper()

	dsn, cleanup := testutil.StartPostgres(t)
	t.Cleanup(cleanup)

	pool := testutil.ConnectPool(t, dsn)
	t.Cleanup(pool.Close)

	testutil.RunMigrations(t, pool)

	repo, err := NewAdapterRepository(pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewAdapterRepository failed: %v", err)
	}
	return repo, pool
}

func newTestAdapter(t *testing.T, name string, addrByte byte) *entity.Adapter {
	t.Helper()

	var address [20]byte
	address[19] = addrByte
	var feedID [32]byte
	feedID[0] = 0x01
	var salt [32]byte
	salt[31] = addrByte

	adapter, err := entity.NewAdapter(
		address, name, entity.AdapterKindTwap, 1,
		shared.HashToken("owner-secret"), feedID,
		-8, 0, 900, 3600, salt,
	)
	if err != nil {
		t.Fatalf("NewAdapter failed: %v", err)
	}
	return adapter
}

func TestAdapterRepository_InsertAndGet(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	adapter := newTestAdapter(t, "eth-usd", 0x01)
	if err := repo.InsertAdapter(ctx, adapter); err != nil {
		t.Fatalf("InsertAdapter failed: %v", err)
	}

	got, err := repo.GetAdapter(ctx, adapter.Address)
	if err != nil {
		t.Fatalf("GetAdapter failed: %v", err)
	}

	if got.Name != adapter.Name {
		t.Errorf("Name = %q, want %q", got.Name, adapter.Name)
	}
	if got.Kind != entity.AdapterKindTwap {
		t.Errorf("Kind = %q, want twap", got.Kind)
	}
	if got.OwnerToken != adapter.OwnerToken {
		t.Error("OwnerToken round trip mismatch")
	}
	if got.FeedID != adapter.FeedID {
		t.Error("FeedID round trip mismatch")
	}
	if got.Expo != -8 {
		t.Errorf("Expo = %d, want -8", got.Expo)
	}
	if got.TwapInterval != 900 {
		t.Errorf("TwapInterval = %d, want 900", got.TwapInterval)
	}
	if got.MaxPriceAge != 3600 {
		t.Errorf("MaxPriceAge = %d, want 3600", got.MaxPriceAge)
	}
	if got.Salt != adapter.Salt {
		t.Error("Salt round trip mismatch")
	}
	if !got.Enabled {
		t.Error("Enabled = false, want true")
	}
}

func TestAdapterRepository_GetMissing(t *testing.T) {
	repo, _ := setupRepository(t)

	var address [20]byte
	address[19] = 0x99

	_, err := repo.GetAdapter(context.Background(), address)
	if !errors.Is(err, outbound.ErrAdapterNotFound) {
		t.Errorf("expected ErrAdapterNotFound, got %v", err)
	}
}

func TestAdapterRepository_ListEnabledOrdering(t *testing.T) {
	repo, pool := setupRepository(t)
	ctx := context.Background()

	for i, name := range []string{"zeta-usd", "alpha-usd", "mid-usd"} {
		adapter := newTestAdapter(t, name, byte(i+1))
		if err := repo.InsertAdapter(ctx, adapter); err != nil {
			t.Fatalf("InsertAdapter(%s) failed: %v", name, err)
		}
	}

	// Disable one directly so the filter is exercised
	if _, err := pool.Exec(ctx, `UPDATE oracle_adapter SET enabled = FALSE WHERE name = 'mid-usd'`); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	adapters, err := repo.ListEnabledAdapters(ctx)
	if err != nil {
		t.Fatalf("ListEnabledAdapters failed: %v", err)
	}
	if len(adapters) != 2 {
		t.Fatalf("got %d adapters, want 2", len(adapters))
	}
	if adapters[0].Name != "alpha-usd" || adapters[1].Name != "zeta-usd" {
		t.Errorf("unexpected order: %s, %s", adapters[0].Name, adapters[1].Name)
	}
}

func TestAdapterRepository_UpdateAdapterConfig(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	adapter := newTestAdapter(t, "eth-usd", 0x01)
	if err := repo.InsertAdapter(ctx, adapter); err != nil {
		t.Fatalf("InsertAdapter failed: %v", err)
	}

	if err := repo.UpdateAdapterConfig(ctx, adapter.Address, 1800, 7200); err != nil {
		t.Fatalf("UpdateAdapterConfig failed: %v", err)
	}

	got, err := repo.GetAdapter(ctx, adapter.Address)
	if err != nil {
		t.Fatalf("GetAdapter failed: %v", err)
	}
	if got.TwapInterval != 1800 {
		t.Errorf("TwapInterval = %d, want 1800", got.TwapInterval)
	}
	if got.MaxPriceAge != 7200 {
		t.Errorf("MaxPriceAge = %d, want 7200", got.MaxPriceAge)
	}

	var missing [20]byte
	missing[19] = 0x99
	if err := repo.UpdateAdapterConfig(ctx, missing, 1, 1); !errors.Is(err, outbound.ErrAdapterNotFound) {
		t.Errorf("expected ErrAdapterNotFound, got %v", err)
	}
}

func TestAdapterRepository_Observations(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	adapter := newTestAdapter(t, "eth-usd", 0x01)
	if err := repo.InsertAdapter(ctx, adapter); err != nil {
		t.Fatalf("InsertAdapter failed: %v", err)
	}

	for _, tc := range []struct {
		price       int64
		publishTime uint64
	}{
		{100, 1000}, {200, 1010}, {300, 1020},
	} {
		obs, err := entity.NewStoredObservation(adapter.Address, tc.price, tc.publishTime)
		if err != nil {
			t.Fatalf("NewStoredObservation failed: %v", err)
		}
		if err := repo.InsertObservation(ctx, obs); err != nil {
			t.Fatalf("InsertObservation failed: %v", err)
		}
	}

	// Duplicate (adapter, publishTime) is silently ignored
	dup, err := entity.NewStoredObservation(adapter.Address, 999, 1020)
	if err != nil {
		t.Fatalf("NewStoredObservation failed: %v", err)
	}
	if err := repo.InsertObservation(ctx, dup); err != nil {
		t.Fatalf("duplicate InsertObservation failed: %v", err)
	}

	observations, err := repo.GetRecentObservations(ctx, adapter.Address, 2)
	if err != nil {
		t.Fatalf("GetRecentObservations failed: %v", err)
	}
	if len(observations) != 2 {
		t.Fatalf("got %d observations, want 2", len(observations))
	}
	if observations[0].PublishTime != 1020 || observations[0].Price != 300 {
		t.Errorf("newest = (%d @ %d), want (300 @ 1020)",
			observations[0].Price, observations[0].PublishTime)
	}
	if observations[1].PublishTime != 1010 {
		t.Errorf("second PublishTime = %d, want 1010", observations[1].PublishTime)
	}

	none, err := repo.GetRecentObservations(ctx, adapter.Address, 0)
	if err != nil {
		t.Fatalf("GetRecentObservations(0) failed: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for zero limit, got %v", none)
	}
}

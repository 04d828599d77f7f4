//go:build integration

package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

// setupRedis creates a Redis container and returns a connected QuoteCache.
func setupRedis(t *testing.T, ttl time.Duration) (*QuoteCache, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	cfg := Config{
		Addr:      fmt.Sprintf("%s:%s", host, port.Port()),
		TTL:       ttl,
		KeyPrefix: "test",
	}

	cache, err := NewQuoteCache(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create quote cache: %v", err)
	}

	// Wait for connection
	for i := 0; i < 30; i++ {
		if err := cache.Ping(ctx); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	cleanup := func() {
		cache.Close()
		container.Terminate(ctx)
	}

	return cache, cleanup
}

func testAddress(b byte) [20]byte {
	var address [20]byte
	address[19] = b
	return address
}

func TestPing_Success(t *testing.T) {
	cache, cleanup := setupRedis(t, time.Hour)
	defer cleanup()

	if err := cache.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestSetLatest_AndGetLatest_RoundTrip(t *testing.T) {
	cache, cleanup := setupRedis(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	address := testAddress(0x01)
	quote := entity.PriceQuote{
		Price:       250000000000,
		Conf:        120000000,
		Expo:        -8,
		PublishTime: 1700000000,
	}

	if err := cache.SetLatest(ctx, address, quote); err != nil {
		t.Fatalf("SetLatest failed: %v", err)
	}

	retrieved, err := cache.GetLatest(ctx, address)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if retrieved != quote {
		t.Errorf("expected quote=%+v, got %+v", quote, retrieved)
	}
}

func TestGetLatest_Miss(t *testing.T) {
	cache, cleanup := setupRedis(t, time.Hour)
	defer cleanup()

	_, err := cache.GetLatest(context.Background(), testAddress(0x99))
	if !errors.Is(err, outbound.ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestSetTWAP_AndGetTWAP_RoundTrip(t *testing.T) {
	cache, cleanup := setupRedis(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	address := testAddress(0x02)

	if err := cache.SetTWAP(ctx, address, 266, 1700000020); err != nil {
		t.Fatalf("SetTWAP failed: %v", err)
	}

	price, computedAt, err := cache.GetTWAP(ctx, address)
	if err != nil {
		t.Fatalf("GetTWAP failed: %v", err)
	}
	if price != 266 {
		t.Errorf("expected price=266, got %d", price)
	}
	if computedAt != 1700000020 {
		t.Errorf("expected computedAt=1700000020, got %d", computedAt)
	}
}

func TestGetTWAP_Miss(t *testing.T) {
	cache, cleanup := setupRedis(t, time.Hour)
	defer cleanup()

	_, _, err := cache.GetTWAP(context.Background(), testAddress(0x99))
	if !errors.Is(err, outbound.ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestQuoteExpires(t *testing.T) {
	cache, cleanup := setupRedis(t, time.Second)
	defer cleanup()

	ctx := context.Background()
	address := testAddress(0x03)

	if err := cache.SetLatest(ctx, address, entity.PriceQuote{Price: 100, PublishTime: 1}); err != nil {
		t.Fatalf("SetLatest failed: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	_, err := cache.GetLatest(ctx, address)
	if !errors.Is(err, outbound.ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss after TTL, got %v", err)
	}
}

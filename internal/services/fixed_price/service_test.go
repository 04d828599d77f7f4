package fixed_price

import (
	"context"
	"testing"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/testutil"
)

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Error("NewService(nil) error = nil, want error")
	}

	twapAdapter, err := entity.NewAdapter(testutil.AdapterAddr(1), "x", entity.AdapterKindTwap, 1,
		[32]byte{}, [32]byte{0xaa}, -8, 0, 900, 60, [32]byte{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if _, err := NewService(twapAdapter); err == nil {
		t.Error("NewService() with twap adapter: error = nil, want error")
	}
}

func TestLatestPriceIsConstant(t *testing.T) {
	adapter, err := entity.NewAdapter(testutil.AdapterAddr(1), "usdc-fixed", entity.AdapterKindFixed, 1,
		[32]byte{}, [32]byte{}, -8, 100_000_000, 0, 0, [32]byte{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	svc, err := NewService(adapter)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.now = func() uint64 { return 1234 }

	for i := 0; i < 3; i++ {
		quote, err := svc.LatestPrice(context.Background())
		if err != nil {
			t.Fatalf("LatestPrice() error = %v", err)
		}
		want := entity.PriceQuote{Price: 100_000_000, Conf: 0, Expo: -8, PublishTime: 1234}
		if quote != want {
			t.Errorf("LatestPrice() = %+v, want %+v", quote, want)
		}
	}
}

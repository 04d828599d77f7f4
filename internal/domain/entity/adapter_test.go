package entity

import (
	"strings"
	"testing"
)

func testAddr() [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = byte(i + 1)
	}
	return a
}

func testFeedID() [32]byte {
	var f [32]byte
	f[0] = 0xab
	return f
}

func TestNewAdapter(t *testing.T) {
	tests := []struct {
		name         string
		address      [20]byte
		adapterName  string
		kind         AdapterKind
		chainID      int
		feedID       [32]byte
		fixedPrice   int64
		twapInterval uint32
		maxPriceAge  uint32
		wantErr      bool
		errContains  string
	}{
		{
			name:         "valid twap adapter",
			address:      testAddr(),
			adapterName:  "eth-usd-twap",
			kind:         AdapterKindTwap,
			chainID:      1,
			feedID:       testFeedID(),
			twapInterval: 900,
			maxPriceAge:  60,
		},
		{
			name:        "valid fixed adapter",
			address:     testAddr(),
			adapterName: "usdc-fixed",
			kind:        AdapterKindFixed,
			chainID:     1,
			fixedPrice:  100_000_000,
		},
		{
			name:        "valid manual adapter",
			address:     testAddr(),
			adapterName: "dai-manual",
			kind:        AdapterKindManual,
			chainID:     1,
			maxPriceAge: 3600,
		},
		{
			name:        "zero address",
			adapterName: "eth-usd-twap",
			kind:        AdapterKindFixed,
			chainID:     1,
			fixedPrice:  1,
			wantErr:     true,
			errContains: "address must not be zero",
		},
		{
			name:        "empty name",
			address:     testAddr(),
			kind:        AdapterKindFixed,
			chainID:     1,
			fixedPrice:  1,
			wantErr:     true,
			errContains: "name must not be empty",
		},
		{
			name:        "unknown kind",
			address:     testAddr(),
			adapterName: "x",
			kind:        AdapterKind("median"),
			chainID:     1,
			wantErr:     true,
			errContains: "unknown adapter kind",
		},
		{
			name:        "zero chainID",
			address:     testAddr(),
			adapterName: "x",
			kind:        AdapterKindFixed,
			fixedPrice:  1,
			wantErr:     true,
			errContains: "chainID must be positive",
		},
		{
			name:         "twap without feed",
			address:      testAddr(),
			adapterName:  "x",
			kind:         AdapterKindTwap,
			chainID:      1,
			twapInterval: 900,
			maxPriceAge:  60,
			wantErr:      true,
			errContains:  "requires a feed ID",
		},
		{
			name:        "twap zero interval",
			address:     testAddr(),
			adapterName: "x",
			kind:        AdapterKindTwap,
			chainID:     1,
			feedID:      testFeedID(),
			maxPriceAge: 60,
			wantErr:     true,
			errContains: "twapInterval must be positive",
		},
		{
			name:         "twap zero max age",
			address:      testAddr(),
			adapterName:  "x",
			kind:         AdapterKindTwap,
			chainID:      1,
			feedID:       testFeedID(),
			twapInterval: 900,
			wantErr:      true,
			errContains:  "maxPriceAge must be positive",
		},
		{
			name:        "fixed non-positive price",
			address:     testAddr(),
			adapterName: "x",
			kind:        AdapterKindFixed,
			chainID:     1,
			wantErr:     true,
			errContains: "fixedPrice must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAdapter(tt.address, tt.adapterName, tt.kind, tt.chainID,
				[32]byte{1}, tt.feedID, -8, tt.fixedPrice, tt.twapInterval, tt.maxPriceAge, [32]byte{2})
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewAdapter() error = nil, want error")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NewAdapter() error = %q, want containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAdapter() error = %v", err)
			}
			if !a.Enabled {
				t.Error("new adapter not enabled by default")
			}
			if a.CreatedAt.IsZero() || a.UpdatedAt.IsZero() {
				t.Error("timestamps not initialized")
			}
		})
	}
}

func TestPriceQuoteAge(t *testing.T) {
	q := PriceQuote{Price: 100, PublishTime: 1000}

	if got := q.Age(1060); got != 60 {
		t.Errorf("Age(1060) = %d, want 60", got)
	}
	if got := q.Age(900); got != 0 {
		t.Errorf("Age(900) = %d, want 0 for future publish time", got)
	}
}

func TestNewStoredObservation(t *testing.T) {
	if _, err := NewStoredObservation([20]byte{}, 100, 10); err == nil {
		t.Error("NewStoredObservation() with zero address: error = nil, want error")
	}
	if _, err := NewStoredObservation(testAddr(), 100, 0); err == nil {
		t.Error("NewStoredObservation() with zero publish time: error = nil, want error")
	}
	o, err := NewStoredObservation(testAddr(), -5, 10)
	if err != nil {
		t.Fatalf("NewStoredObservation() error = %v", err)
	}
	if o.Price != -5 || o.PublishTime != 10 {
		t.Errorf("observation = %+v", o)
	}
}

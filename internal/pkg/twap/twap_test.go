package twap

import (
	"errors"
	"math"
	"testing"

	"github.com/archon-research/paymaster-oracle/internal/pkg/pricehistory"
)

func obs(pairs ...int64) []pricehistory.Observation {
	if len(pairs)%2 != 0 {
		panic("obs requires price/timestamp pairs")
	}
	out := make([]pricehistory.Observation, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, pricehistory.Observation{Price: pairs[i], Timestamp: uint64(pairs[i+1])})
	}
	return out
}

func TestComputeWindowedAverage(t *testing.T) {
	// (100@0, 200@10, 300@20), interval 15, now 20. Window start is 5:
	// 300 is weighted 20-10=10, 200 is weighted 10-5=5, 100 only serves as
	// the predecessor of 200. (300*10 + 200*5) / 15 = 266.
	got, err := Compute(obs(100, 0, 200, 10, 300, 20), 20, 15)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if got != 266 {
		t.Errorf("Compute() = %d, want 266", got)
	}
}

func TestComputeInsufficientData(t *testing.T) {
	tests := []struct {
		name     string
		obs      []pricehistory.Observation
		now      uint64
		interval uint32
	}{
		{"empty history", nil, 100, 50},
		{"single observation", obs(100, 10), 100, 50},
		{"all observations before window", obs(100, 10, 200, 20), 1000, 50},
		{"zero interval", obs(100, 10, 200, 20), 20, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.obs, tt.now, tt.interval)
			if !errors.Is(err, ErrInsufficientData) {
				t.Errorf("Compute() error = %v, want ErrInsufficientData", err)
			}
		})
	}
}

func TestComputeFullWindowCoverage(t *testing.T) {
	// All pairs inside the window: (200 over [10,20], 300 over [20,30]).
	got, err := Compute(obs(100, 10, 200, 20, 300, 30), 30, 100)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	want := int64((200*10 + 300*10) / 20)
	if got != want {
		t.Errorf("Compute() = %d, want %d", got, want)
	}
}

func TestComputeWindowWiderThanClock(t *testing.T) {
	// interval > now must saturate the window start at zero, not wrap.
	got, err := Compute(obs(100, 10, 200, 20), 25, math.MaxUint32)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	// Only the (100,200) pair contributes: 200 over [10,20].
	if got != 200 {
		t.Errorf("Compute() = %d, want 200", got)
	}
}

func TestComputeStopsAtWindowBoundary(t *testing.T) {
	// current.Timestamp == windowStart terminates the walk: the pair ending
	// exactly at the boundary is outside the window.
	got, err := Compute(obs(100, 0, 200, 10, 300, 20), 20, 10)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	// Window [10,20]: only 300 over [10,20] contributes.
	if got != 300 {
		t.Errorf("Compute() = %d, want 300", got)
	}
}

func TestComputeNegativePricesTruncateTowardZero(t *testing.T) {
	// (-200*10 + -100*5) / 15 = -2500/15 = -166.67, truncated toward zero
	// to -166 rather than floored to -167.
	got, err := Compute(obs(-50, 0, -100, 10, -200, 20), 20, 15)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if got != -166 {
		t.Errorf("Compute() = %d, want -166", got)
	}
}

func TestComputeConfigChangeChangesResult(t *testing.T) {
	history := obs(100, 0, 200, 10, 300, 20)

	narrow, err := Compute(history, 20, 10)
	if err != nil {
		t.Fatalf("Compute(interval=10) error = %v", err)
	}
	wide, err := Compute(history, 20, 15)
	if err != nil {
		t.Fatalf("Compute(interval=15) error = %v", err)
	}
	if narrow == wide {
		t.Errorf("interval change had no effect: both computed %d", narrow)
	}
	if narrow != 300 || wide != 266 {
		t.Errorf("Compute() = (%d, %d), want (300, 266)", narrow, wide)
	}
}

func TestComputeIntermediateSumMayExceedInt64(t *testing.T) {
	// Max price held for the whole uint32 interval overflows int64 in the
	// accumulator but divides back into range. Must not panic.
	const interval = math.MaxUint32
	history := obs(
		math.MaxInt64, 1,
		math.MaxInt64, int64(interval),
	)
	got, err := Compute(history, uint64(interval), interval)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if got != math.MaxInt64 {
		t.Errorf("Compute() = %d, want %d", got, int64(math.MaxInt64))
	}
}

func TestComputeSingleObservationContributesNothing(t *testing.T) {
	// The oldest observation has no predecessor, so a one-element history
	// accumulates zero weight even when it sits inside the window.
	_, err := Compute(obs(500, 95), 100, 50)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Compute() error = %v, want ErrInsufficientData", err)
	}
}

func TestComputeExtremeValuesStayInRange(t *testing.T) {
	got, err := Compute(obs(math.MinInt64, 0, math.MinInt64, 10), 10, 10)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if got != math.MinInt64 {
		t.Errorf("Compute() = %d, want %d", got, int64(math.MinInt64))
	}
}

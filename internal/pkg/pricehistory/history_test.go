package pricehistory

import (
	"reflect"
	"testing"
)

func TestAcceptAppendsBelowCapacity(t *testing.T) {
	h := New(4)

	for i, ts := range []uint64{10, 20, 30} {
		if !h.Accept(Observation{Price: int64(100 * (i + 1)), Timestamp: ts}) {
			t.Fatalf("Accept(%d) = false, want true", ts)
		}
	}

	if h.Len() != 3 {
		t.Errorf("Len() = %d, want 3", h.Len())
	}
	want := []Observation{{100, 10}, {200, 20}, {300, 30}}
	if got := h.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
}

func TestAcceptRejectsNonMonotonicTimestamps(t *testing.T) {
	tests := []struct {
		name string
		ts   uint64
	}{
		{"duplicate timestamp", 20},
		{"older timestamp", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(4)
			h.Accept(Observation{Price: 100, Timestamp: 10})
			h.Accept(Observation{Price: 200, Timestamp: 20})
			before := h.Snapshot()

			if h.Accept(Observation{Price: 999, Timestamp: tt.ts}) {
				t.Fatalf("Accept(%d) = true, want false", tt.ts)
			}
			if after := h.Snapshot(); !reflect.DeepEqual(before, after) {
				t.Errorf("store changed by rejected observation: before %v, after %v", before, after)
			}
		})
	}
}

func TestAcceptEvictsOldestAtCapacity(t *testing.T) {
	h := New(3)
	for i := uint64(1); i <= 3; i++ {
		h.Accept(Observation{Price: int64(i), Timestamp: i * 10})
	}

	if !h.Accept(Observation{Price: 4, Timestamp: 40}) {
		t.Fatal("Accept at capacity = false, want true (evict oldest)")
	}

	if h.Len() != 3 {
		t.Errorf("Len() = %d, want 3", h.Len())
	}
	want := []Observation{{2, 20}, {3, 30}, {4, 40}}
	if got := h.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
}

func TestCapacityBoundOverManyInsertions(t *testing.T) {
	h := New(MaxHistory)
	const total = 3*MaxHistory + 5

	for i := 1; i <= total; i++ {
		if !h.Accept(Observation{Price: int64(i), Timestamp: uint64(i)}) {
			t.Fatalf("Accept(%d) = false, want true", i)
		}
	}

	if h.Len() != MaxHistory {
		t.Fatalf("Len() = %d, want %d", h.Len(), MaxHistory)
	}

	snap := h.Snapshot()
	for i, obs := range snap {
		wantTS := uint64(total - MaxHistory + 1 + i)
		if obs.Timestamp != wantTS {
			t.Errorf("snapshot[%d].Timestamp = %d, want %d", i, obs.Timestamp, wantTS)
		}
		if i > 0 && snap[i].Timestamp <= snap[i-1].Timestamp {
			t.Errorf("timestamps not strictly increasing at index %d: %d <= %d",
				i, snap[i].Timestamp, snap[i-1].Timestamp)
		}
	}
}

func TestLatest(t *testing.T) {
	h := New(2)

	if _, ok := h.Latest(); ok {
		t.Error("Latest() on empty history reported ok")
	}

	h.Accept(Observation{Price: 100, Timestamp: 10})
	h.Accept(Observation{Price: 200, Timestamp: 20})
	h.Accept(Observation{Price: 300, Timestamp: 30}) // wraps

	obs, ok := h.Latest()
	if !ok {
		t.Fatal("Latest() reported not ok")
	}
	if obs.Price != 300 || obs.Timestamp != 30 {
		t.Errorf("Latest() = %+v, want {300 30}", obs)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	h := New(2)
	h.Accept(Observation{Price: 100, Timestamp: 10})

	snap := h.Snapshot()
	snap[0].Price = -1

	got, _ := h.Latest()
	if got.Price != 100 {
		t.Errorf("mutating snapshot changed the store: Latest().Price = %d", got.Price)
	}
}

func TestNewFallsBackToDefaultCapacity(t *testing.T) {
	for _, capacity := range []int{0, -3} {
		if got := New(capacity).Cap(); got != MaxHistory {
			t.Errorf("New(%d).Cap() = %d, want %d", capacity, got, MaxHistory)
		}
	}
}

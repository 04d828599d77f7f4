// Package pricehistory provides a bounded, time-ordered buffer of price
// observations. It is the storage half of the TWAP pipeline: accepted
// observations are kept in a fixed-capacity ring with oldest-first eviction,
// and timestamps are strictly increasing in storage order.
package pricehistory

// MaxHistory is the default observation capacity.
const MaxHistory = 24

// Observation is a single accepted price point. Price is in the upstream
// feed's native fixed-point units; the exponent lives on the adapter, not
// per observation.
type Observation struct {
	Price     int64
	Timestamp uint64 // unix seconds
}

// History is a fixed-capacity ring buffer of observations. The zero value is
// not usable; construct with New. Not safe for concurrent use — callers
// serialize access (the TWAP adapter holds a single lock around every
// read-modify-write).
type History struct {
	buf  []Observation
	head int // index of the oldest entry
	n    int
}

// New returns an empty history with the given capacity. A non-positive
// capacity falls back to MaxHistory.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = MaxHistory
	}
	return &History{buf: make([]Observation, capacity)}
}

// Accept inserts obs if it advances the window. Observations whose timestamp
// is not strictly greater than the newest stored entry are ignored and
// Accept returns false; duplicates and reordered publishes from the upstream
// feed are expected, not errors. At capacity the oldest entry is evicted.
func (h *History) Accept(obs Observation) bool {
	if h.n > 0 {
		last := h.buf[(h.head+h.n-1)%len(h.buf)]
		if obs.Timestamp <= last.Timestamp {
			return false
		}
	}
	if h.n < len(h.buf) {
		h.buf[(h.head+h.n)%len(h.buf)] = obs
		h.n++
		return true
	}
	h.buf[h.head] = obs
	h.head = (h.head + 1) % len(h.buf)
	return true
}

// Latest returns the most recently accepted observation. The second return
// is false while the history is empty.
func (h *History) Latest() (Observation, bool) {
	if h.n == 0 {
		return Observation{}, false
	}
	return h.buf[(h.head+h.n-1)%len(h.buf)], true
}

// Snapshot returns a copy of the stored observations, oldest first.
func (h *History) Snapshot() []Observation {
	out := make([]Observation, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of stored observations.
func (h *History) Len() int {
	return h.n
}

// Cap returns the capacity of the buffer.
func (h *History) Cap() int {
	return len(h.buf)
}

// Package twap computes a time-weighted average price over a trailing window
// of observations held in a pricehistory buffer. The computation is lazy:
// every call walks the window fresh rather than maintaining a running sum.
package twap

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/archon-research/paymaster-oracle/internal/pkg/pricehistory"
)

// ErrInsufficientData is returned when the history holds no observations, or
// no pair of observations overlaps the requested window.
var ErrInsufficientData = errors.New("insufficient price data")

// Compute returns the time-weighted average of obs over the trailing window
// [now-interval, now]. obs must be ordered oldest first with strictly
// increasing timestamps, as produced by pricehistory.History.Snapshot.
//
// Weighting is rectangular: each observation's price is held constant until
// superseded by the next one, so the pair (prev, current) contributes
// current.Price for the duration current.Timestamp - max(prev.Timestamp,
// windowStart). The walk runs newest to oldest and stops at the first pair
// whose newer timestamp falls at or before the window start; the oldest
// observation never contributes on its own.
//
// A result outside the int64 range means the adapter was configured with
// prices or intervals that violate the engine's operating assumptions, and
// Compute panics rather than returning an error.
func Compute(obs []pricehistory.Observation, now uint64, interval uint32) (int64, error) {
	if len(obs) == 0 {
		return 0, ErrInsufficientData
	}

	// Saturating subtraction: a window wider than the clock reaches the
	// beginning of time instead of wrapping.
	var windowStart uint64
	if uint64(interval) < now {
		windowStart = now - uint64(interval)
	}

	cumulative := new(big.Int)
	term := new(big.Int)
	var totalTime uint64

	for i := len(obs) - 1; i > 0; i-- {
		current := obs[i]
		prev := obs[i-1]
		if current.Timestamp <= windowStart {
			break
		}
		from := prev.Timestamp
		if windowStart > from {
			from = windowStart
		}
		weight := current.Timestamp - from
		term.SetInt64(current.Price)
		term.Mul(term, new(big.Int).SetUint64(weight))
		cumulative.Add(cumulative, term)
		totalTime += weight
	}

	if totalTime == 0 {
		return 0, ErrInsufficientData
	}

	// big.Int.Quo truncates toward zero, matching the reference semantics
	// for negative cumulative sums.
	result := cumulative.Quo(cumulative, new(big.Int).SetUint64(totalTime))
	if !result.IsInt64() {
		panic(fmt.Sprintf("twap: result %s exceeds int64 range [%d, %d]",
			result.String(), math.MinInt64, int64(math.MaxInt64)))
	}
	return result.Int64(), nil
}

// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"errors"
	"math/big"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
)

// ErrFeedUnavailable is returned when the upstream feed cannot produce a
// value for the requested feed ID.
var ErrFeedUnavailable = errors.New("price feed unavailable")

// PriceFeed is the consumed capability of an upstream push oracle. A feed is
// identified by a 32-byte ID; refreshing it on-chain carries a fee computed
// from the submitted update payload.
type PriceFeed interface {
	// FetchLatest returns the most recent quote for the feed, without
	// requiring freshness. Returns ErrFeedUnavailable (possibly wrapped)
	// when the feed cannot produce a value.
	FetchLatest(ctx context.Context, feedID [32]byte) (entity.PriceQuote, error)

	// UpdateFee quotes the fee required to submit the given update payload.
	UpdateFee(ctx context.Context, updateData [][]byte) (*big.Int, error)

	// SubmitUpdate pushes signed update data to the feed, paying fee.
	// Read-only feed sources accept the call and discard the payload.
	SubmitUpdate(ctx context.Context, updateData [][]byte, fee *big.Int) error
}

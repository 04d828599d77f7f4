package blockchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

// PythPriceResult holds the result of a getPriceUnsafe(bytes32) call for one
// feed.
type PythPriceResult struct {
	FeedID      [32]byte
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime uint64
	Success     bool
}

// FetchPythPrices reads getPriceUnsafe(bytes32) for each feed via a single
// multicall. Each call uses AllowFailure: true so unknown or lagging feeds
// fail independently without reverting the batch. Values are returned raw;
// staleness policy belongs to the caller.
func FetchPythPrices(
	ctx context.Context,
	multicaller outbound.Multicaller,
	pythABI *abi.ABI,
	pythAddr common.Address,
	feedIDs [][32]byte,
	logger *slog.Logger,
) ([]PythPriceResult, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}

	calls := make([]outbound.Call, len(feedIDs))
	for i, feedID := range feedIDs {
		callData, err := pythABI.Pack("getPriceUnsafe", feedID)
		if err != nil {
			return nil, fmt.Errorf("packing getPriceUnsafe: %w", err)
		}
		calls[i] = outbound.Call{
			Target:       pythAddr,
			AllowFailure: true,
			CallData:     callData,
		}
	}

	results, err := multicaller.Execute(ctx, calls, nil)
	if err != nil {
		return nil, fmt.Errorf("executing multicall: %w", err)
	}

	if len(results) != len(feedIDs) {
		return nil, fmt.Errorf("expected %d multicall results, got %d", len(feedIDs), len(results))
	}

	out := make([]PythPriceResult, len(feedIDs))
	for i, r := range results {
		out[i].FeedID = feedIDs[i]

		if !r.Success {
			logger.Warn("price read reverted", "feedID", fmt.Sprintf("%x", feedIDs[i]))
			continue
		}

		price, err := unpackPythPrice(pythABI, r.ReturnData)
		if err != nil {
			return nil, fmt.Errorf("unpacking getPriceUnsafe for feed %x: %w", feedIDs[i], err)
		}

		if price.PublishTime == 0 {
			logger.Warn("feed has no published price", "feedID", fmt.Sprintf("%x", feedIDs[i]))
			continue
		}

		out[i].Price = price.Price
		out[i].Conf = price.Conf
		out[i].Expo = price.Expo
		out[i].PublishTime = price.PublishTime
		out[i].Success = true
	}

	return out, nil
}

type pythPrice struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime uint64
}

func unpackPythPrice(pythABI *abi.ABI, data []byte) (pythPrice, error) {
	unpacked, err := pythABI.Unpack("getPriceUnsafe", data)
	if err != nil {
		return pythPrice{}, err
	}

	raw := unpacked[0].(struct {
		Price       int64    `json:"price"`
		Conf        uint64   `json:"conf"`
		Expo        int32    `json:"expo"`
		PublishTime *big.Int `json:"publishTime"`
	})

	return pythPrice{
		Price:       raw.Price,
		Conf:        raw.Conf,
		Expo:        raw.Expo,
		PublishTime: raw.PublishTime.Uint64(),
	}, nil
}

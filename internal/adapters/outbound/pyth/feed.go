// Package pyth implements the PriceFeed port against an on-chain Pyth
// contract. Reads go through Multicall3 so many feeds share one RPC round
// trip; feed updates are submitted as transactions paying the quoted fee.
package pyth

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/pkg/blockchain"
	"github.com/archon-research/paymaster-oracle/internal/pkg/blockchain/abis"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

// Compile-time check that Feed implements outbound.PriceFeed
var _ outbound.PriceFeed = (*Feed)(nil)

// Config holds configuration for the Pyth feed client.
type Config struct {
	// ContractAddress is the deployed Pyth contract.
	ContractAddress common.Address

	Logger *slog.Logger
}

// Feed reads and updates prices on a Pyth contract.
type Feed struct {
	config      Config
	multicaller outbound.Multicaller
	sender      outbound.TxSender
	pythABI     *abi.ABI
	logger      *slog.Logger
}

// NewFeed creates a new Pyth feed client. sender may be nil for read-only
// deployments; SubmitUpdate then fails.
func NewFeed(config Config, multicaller outbound.Multicaller, sender outbound.TxSender) (*Feed, error) {
	if multicaller == nil {
		return nil, fmt.Errorf("multicaller cannot be nil")
	}
	if config.ContractAddress == (common.Address{}) {
		return nil, fmt.Errorf("contract address is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	pythABI, err := abis.GetPythABI()
	if err != nil {
		return nil, fmt.Errorf("loading Pyth ABI: %w", err)
	}

	return &Feed{
		config:      config,
		multicaller: multicaller,
		sender:      sender,
		pythABI:     pythABI,
		logger:      config.Logger.With("component", "pyth-feed"),
	}, nil
}

// FetchLatest reads the newest published value for one feed.
func (f *Feed) FetchLatest(ctx context.Context, feedID [32]byte) (entity.PriceQuote, error) {
	results, err := f.FetchBatch(ctx, [][32]byte{feedID})
	if err != nil {
		return entity.PriceQuote{}, err
	}

	r := results[0]
	if !r.Success {
		return entity.PriceQuote{}, fmt.Errorf("%w: feed %x", outbound.ErrFeedUnavailable, feedID)
	}

	return entity.PriceQuote{
		Price:       r.Price,
		Conf:        r.Conf,
		Expo:        r.Expo,
		PublishTime: r.PublishTime,
	}, nil
}

// FetchBatch reads many feeds in one multicall.
func (f *Feed) FetchBatch(ctx context.Context, feedIDs [][32]byte) ([]blockchain.PythPriceResult, error) {
	results, err := blockchain.FetchPythPrices(ctx, f.multicaller, f.pythABI,
		f.config.ContractAddress, feedIDs, f.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", outbound.ErrFeedUnavailable, err)
	}
	return results, nil
}

// UpdateFee quotes the fee the contract charges for an update payload.
func (f *Feed) UpdateFee(ctx context.Context, updateData [][]byte) (*big.Int, error) {
	callData, err := f.pythABI.Pack("getUpdateFee", updateData)
	if err != nil {
		return nil, fmt.Errorf("packing getUpdateFee: %w", err)
	}

	results, err := f.multicaller.Execute(ctx, []outbound.Call{{
		Target:   f.config.ContractAddress,
		CallData: callData,
	}}, nil)
	if err != nil {
		return nil, fmt.Errorf("querying update fee: %w", err)
	}
	if len(results) != 1 || !results[0].Success {
		return nil, fmt.Errorf("getUpdateFee call failed")
	}

	unpacked, err := f.pythABI.Unpack("getUpdateFee", results[0].ReturnData)
	if err != nil {
		return nil, fmt.Errorf("unpacking getUpdateFee: %w", err)
	}
	return unpacked[0].(*big.Int), nil
}

// SubmitUpdate pushes signed update data on-chain, attaching fee as value.
func (f *Feed) SubmitUpdate(ctx context.Context, updateData [][]byte, fee *big.Int) error {
	if f.sender == nil {
		return fmt.Errorf("no transaction sender configured")
	}

	data, err := f.pythABI.Pack("updatePriceFeeds", updateData)
	if err != nil {
		return fmt.Errorf("packing updatePriceFeeds: %w", err)
	}

	txHash, err := f.sender.Send(ctx, f.config.ContractAddress, fee, data)
	if err != nil {
		return fmt.Errorf("submitting price update: %w", err)
	}

	f.logger.Info("submitted price update", "tx", txHash.Hex(), "fee", fee)
	return nil
}

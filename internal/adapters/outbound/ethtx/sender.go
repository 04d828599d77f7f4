// Package ethtx implements the TxSender port with a locally held signing
// key. It covers the service's narrow need, paying feed update fees, and is
// not a general transaction manager.
package ethtx

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

// Compile-time check that Sender implements outbound.TxSender
var _ outbound.TxSender = (*Sender)(nil)

// Config holds configuration for the transaction sender.
type Config struct {
	// PrivateKeyHex is the hex-encoded signing key, without 0x prefix.
	PrivateKeyHex string

	// ChainID is used for EIP-155 replay protection.
	ChainID int64

	// GasLimit caps each transaction. Zero uses a default suited to feed
	// updates.
	GasLimit uint64

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		GasLimit: 500_000,
	}
}

// Sender signs and submits transactions through an ethclient.
type Sender struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	config  Config
	logger  *slog.Logger
}

// NewSender creates a new transaction sender.
func NewSender(client *ethclient.Client, config Config) (*Sender, error) {
	if client == nil {
		return nil, fmt.Errorf("eth client cannot be nil")
	}
	if config.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}
	if config.ChainID == 0 {
		return nil, fmt.Errorf("chain ID is required")
	}

	key, err := crypto.HexToECDSA(config.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	defaults := ConfigDefaults()
	if config.GasLimit == 0 {
		config.GasLimit = defaults.GasLimit
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	return &Sender{
		client:  client,
		key:     key,
		from:    from,
		chainID: big.NewInt(config.ChainID),
		config:  config,
		logger:  config.Logger.With("component", "tx-sender", "from", from.Hex()),
	}, nil
}

// From returns the sending address.
func (s *Sender) From() common.Address {
	return s.from
}

// Send signs and broadcasts a transaction. It returns once the transaction
// is accepted by the node, without waiting for inclusion.
func (s *Sender) Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetching nonce: %w", err)
	}

	tipCap, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetching gas tip: %w", err)
	}
	head, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetching head: %w", err)
	}
	// Standard double-base-fee headroom so the tx survives base fee swings.
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	tx, err := types.SignNewTx(s.key, types.LatestSignerForChainID(s.chainID), &types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       s.config.GasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("signing transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("broadcasting transaction: %w", err)
	}

	s.logger.Debug("transaction sent", "tx", tx.Hash().Hex(), "to", to.Hex(), "nonce", nonce)
	return tx.Hash(), nil
}

package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxSender submits a state-changing contract call. Implementations own key
// management and gas policy; callers only provide the target, payload, and
// attached value.
type TxSender interface {
	// Send submits a transaction and returns its hash. It does not wait
	// for inclusion.
	Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error)
}

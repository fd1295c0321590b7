package treasury

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Client abstracts the on-chain patron token interaction. Transfer and
// Mint block until one confirmation.
type Client interface {
	TreasuryAddress() common.Address
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (TxResult, error)
	Mint(ctx context.Context, to common.Address, amount *big.Int) (TxResult, error)
}

// HealthChecker is implemented by clients that can probe the RPC endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type TxResult struct {
	TxHash string
	Amount *big.Int
}

package treasury

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// FakeClient emulates the patron token for tests and keyless dev runs.
// Transfers debit an in-memory balance and produce deterministic hashes.
type FakeClient struct {
	mu       sync.Mutex
	balance  *big.Int
	treasury common.Address

	TransferCalls int
	MintCalls     int
	LastTo        common.Address
	LastAmount    *big.Int
	FailWith      error
}

func NewFakeClient(balance *big.Int) *FakeClient {
	if balance == nil {
		balance = new(big.Int)
	}
	return &FakeClient{
		balance:  new(big.Int).Set(balance),
		treasury: common.HexToAddress("0x00000000000000000000000000000000C0FFEE00"),
	}
}

func (f *FakeClient) TreasuryAddress() common.Address {
	return f.treasury
}

func (f *FakeClient) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner == f.treasury {
		return new(big.Int).Set(f.balance), nil
	}
	return new(big.Int), nil
}

func (f *FakeClient) Transfer(_ context.Context, to common.Address, amount *big.Int) (TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.TransferCalls++
	if f.FailWith != nil {
		return TxResult{}, f.FailWith
	}
	if f.balance.Cmp(amount) < 0 {
		return TxResult{}, fmt.Errorf("transfer amount exceeds balance")
	}
	f.balance.Sub(f.balance, amount)
	f.LastTo = to
	f.LastAmount = new(big.Int).Set(amount)
	return TxResult{TxHash: fakeHash("transfer", to, amount), Amount: new(big.Int).Set(amount)}, nil
}

func (f *FakeClient) Mint(_ context.Context, to common.Address, amount *big.Int) (TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.MintCalls++
	if f.FailWith != nil {
		return TxResult{}, f.FailWith
	}
	f.LastTo = to
	f.LastAmount = new(big.Int).Set(amount)
	return TxResult{TxHash: fakeHash("mint", to, amount), Amount: new(big.Int).Set(amount)}, nil
}

func fakeHash(method string, to common.Address, amount *big.Int) string {
	sum := sha256.Sum256([]byte(method + to.Hex() + amount.String()))
	return "0x" + hex.EncodeToString(sum[:])
}

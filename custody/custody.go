// Package custody is the narrow interface to the token-transfer primitives on each network.
// How a lock or a mint is executed on chain is up to the implementation behind it.
package custody

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Executor moves value on a given chain. Lock and Burn reserve user funds, Unlock and Mint
// credit an account. Implementations return types.ErrInsufficientBalance when a
// reservation cannot be covered.
type Executor interface {
	// Lock moves amount from account into the bridge escrow of token
	Lock(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error
	// Unlock releases amount of token from escrow to account
	Unlock(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error
	// Mint creates amount of a representation token for account
	Mint(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error
	// Burn destroys amount of a representation token held by account
	Burn(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error
}

package custody

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ybbus/jsonrpc"

	"gobridgeledger/types"
)

// error code the custody service returns when a reservation is not covered
const codeInsufficientBalance = -32001

// RPCExecutor is a thin wrapper over the external custody service JSON-RPC API
type RPCExecutor struct {
	client jsonrpc.RPCClient
}

type transferParams struct {
	ChainID uint64         `json:"chainId"`
	Token   common.Address `json:"token"`
	Account common.Address `json:"account"`
	Amount  string         `json:"amount"`
}

type transferResult struct {
	TxRef string `json:"txRef"`
}

func NewRPC(url string, headers map[string]string) *RPCExecutor {
	return &RPCExecutor{
		client: jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
			HTTPClient:    &http.Client{Timeout: 30 * time.Second},
			CustomHeaders: headers,
		}),
	}
}

func (r *RPCExecutor) call(ctx context.Context, method string, chainID uint64, token, account common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}

	resp, err := r.client.Call(method, &transferParams{
		ChainID: chainID,
		Token:   token,
		Account: account,
		Amount:  amount.String(),
	})
	if err != nil {
		return types.Wrap(types.ErrInternal, err, "custody %s", method)
	}
	if resp.Error != nil {
		if resp.Error.Code == codeInsufficientBalance {
			return types.Wrap(types.ErrInsufficientBalance, resp.Error, "custody %s", method)
		}
		return types.Wrap(types.ErrInternal, resp.Error, "custody %s", method)
	}

	var res transferResult
	if err := resp.GetObject(&res); err != nil {
		return types.Wrap(types.ErrInternal, err, "custody %s: bad result", method)
	}
	return nil
}

func (r *RPCExecutor) Lock(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error {
	return r.call(ctx, "custody_lock", chainID, token, account, amount)
}

func (r *RPCExecutor) Unlock(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error {
	return r.call(ctx, "custody_unlock", chainID, token, account, amount)
}

func (r *RPCExecutor) Mint(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error {
	return r.call(ctx, "custody_mint", chainID, token, account, amount)
}

func (r *RPCExecutor) Burn(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error {
	return r.call(ctx, "custody_burn", chainID, token, account, amount)
}

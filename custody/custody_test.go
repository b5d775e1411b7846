package custody

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gobridgeledger/types"
)

var (
	token = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

func TestMemory_LockUnlock(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Credit(1, token, alice, big.NewInt(100))

	require.NoError(t, m.Lock(ctx, 1, token, alice, big.NewInt(40)))
	assert.Equal(t, "60", m.Balance(1, token, alice).String())
	assert.Equal(t, "40", m.Escrow(1, token).String())

	err := m.Lock(ctx, 1, token, alice, big.NewInt(61))
	assert.True(t, errors.Is(err, types.ErrInsufficientBalance))
	assert.Equal(t, "60", m.Balance(1, token, alice).String())

	require.NoError(t, m.Unlock(ctx, 1, token, bob, big.NewInt(40)))
	assert.Equal(t, "40", m.Balance(1, token, bob).String())
	assert.Equal(t, "0", m.Escrow(1, token).String())

	err = m.Unlock(ctx, 1, token, bob, big.NewInt(1))
	assert.True(t, errors.Is(err, types.ErrInsufficientBalance))
}

func TestMemory_MintBurn(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Mint(ctx, 56, token, alice, big.NewInt(5)))
	assert.Equal(t, "5", m.Balance(56, token, alice).String())
	// chains are separate ledgers
	assert.Equal(t, "0", m.Balance(1, token, alice).String())

	err := m.Burn(ctx, 56, token, alice, big.NewInt(6))
	assert.True(t, errors.Is(err, types.ErrInsufficientBalance))
	require.NoError(t, m.Burn(ctx, 56, token, alice, big.NewInt(5)))
	assert.Equal(t, "0", m.Balance(56, token, alice).String())

	err = m.Mint(ctx, 56, token, alice, big.NewInt(0))
	assert.True(t, errors.Is(err, types.ErrInvalidAmount))
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     int             `json:"id"`
}

func TestRPCExecutor(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		methods = append(methods, req.Method)

		var params transferParams
		require.NoError(t, json.Unmarshal(req.Params, &params))

		w.Header().Set("Content-Type", "application/json")
		if params.Amount == "999" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]interface{}{"code": codeInsufficientBalance, "message": "not enough"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]string{"txRef": "0xabc"},
		})
	}))
	defer srv.Close()

	r := NewRPC(srv.URL, nil)
	ctx := context.Background()

	require.NoError(t, r.Lock(ctx, 1, token, alice, big.NewInt(10)))
	require.NoError(t, r.Mint(ctx, 56, token, alice, big.NewInt(10)))
	err := r.Burn(ctx, 56, token, alice, big.NewInt(999))
	assert.True(t, errors.Is(err, types.ErrInsufficientBalance))

	assert.Equal(t, []string{"custody_lock", "custody_mint", "custody_burn"}, methods)
}

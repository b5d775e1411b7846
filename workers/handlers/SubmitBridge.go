package handlers

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"gobridgeledger/ledger"
	"gobridgeledger/types"
)

type openFunc func(ctx context.Context, caller string, req *ledger.BridgeRequest) (*types.BridgeOperation, error)

func (a *API) BridgeOut(w http.ResponseWriter, r *http.Request) {
	a.submit(w, r, a.Ledger.BridgeOut)
}

func (a *API) BridgeIn(w http.ResponseWriter, r *http.Request) {
	a.submit(w, r, a.Ledger.BridgeIn)
}

func (a *API) submit(w http.ResponseWriter, r *http.Request, open openFunc) {
	var req BridgeRequest
	c, ok := a.begin(w, r, &req)
	if !ok {
		return
	}

	// user defaults to the signer
	if req.User == "" && common.IsHexAddress(c.principal) {
		req.User = c.principal
	}
	user, ok := parseAddress(req.User)
	if !ok {
		fieldError(w, "user", "No ethereum address or invalid address provided")
		return
	}
	token, ok := parseAddress(req.Token)
	if !ok {
		fieldError(w, "token", "No ethereum address or invalid address provided")
		return
	}
	recipient, ok := parseAddress(req.Recipient)
	if !ok {
		fieldError(w, "recipient", "No ethereum address or invalid address provided")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		fieldError(w, "amount", "Invalid amount")
		return
	}

	op, err := open(r.Context(), c.principal, &ledger.BridgeRequest{
		User:          user,
		Token:         token,
		Amount:        amount,
		RemoteChainID: req.RemoteChainID,
		Recipient:     recipient,
		GasBudget:     req.GasBudget,
	})
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &OperationResponse{Status: "ok", Operation: op}, http.StatusCreated)
}

// EstimateFee takes optional ?gas=
func (a *API) EstimateFee(w http.ResponseWriter, r *http.Request) {
	chainID, ok := urlChain(w, r, "chain")
	if !ok {
		return
	}
	gas, ok := queryInt(r, "gas", 0)
	if !ok {
		fieldError(w, "gas", "Invalid gas budget")
		return
	}
	fee, service, err := a.Ledger.EstimateFee(r.Context(), chainID, uint64(gas), nil)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &FeeResponse{Status: "ok", Fee: fee.String(), Service: service}, http.StatusOK)
}

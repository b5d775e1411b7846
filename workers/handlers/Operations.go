package handlers

import (
	"net/http"

	"gobridgeledger/types"
)

func (a *API) GetOperation(w http.ResponseWriter, r *http.Request) {
	id, ok := urlHash(w, r, "id")
	if !ok {
		return
	}
	op, err := a.Ledger.GetOperation(r.Context(), id)
	if err != nil {
		responseError(w, err)
		return
	}
	if op == nil {
		responseError(w, types.Errorf(types.ErrOperationNotFound, "%s", id.Hex()))
		return
	}
	responseJSON(w, &OperationResponse{Status: "ok", Operation: op}, http.StatusOK)
}

func (a *API) ListOperations(w http.ResponseWriter, r *http.Request) {
	user, ok := urlAddress(w, r, "user")
	if !ok {
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		fieldError(w, "offset", "Invalid offset")
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		fieldError(w, "limit", "Invalid limit")
		return
	}
	ops, err := a.Ledger.ListOperations(r.Context(), user, offset, limit)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, ops, http.StatusOK)
}

// Complete is the manual resolver path, backends complete through their message handler
func (a *API) Complete(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	c, ok := a.begin(w, r, &req)
	if !ok {
		return
	}
	id, ok := urlHash(w, r, "id")
	if !ok {
		return
	}
	op, err := a.Ledger.Complete(r.Context(), c.principal, id, req.ProofRef)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &OperationResponse{Status: "ok", Operation: op}, http.StatusOK)
}

func (a *API) Cancel(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	c, ok := a.begin(w, r, &req)
	if !ok {
		return
	}
	id, ok := urlHash(w, r, "id")
	if !ok {
		return
	}
	op, err := a.Ledger.Cancel(r.Context(), c.principal, id, req.Reason)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &OperationResponse{Status: "ok", Operation: op}, http.StatusOK)
}

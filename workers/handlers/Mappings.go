package handlers

import (
	"net/http"

	"gobridgeledger/types"
)

func (a *API) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var req MappingRequest
	c, ok := a.begin(w, r, &req)
	if !ok {
		return
	}
	home, ok := parseAddress(req.HomeToken)
	if !ok {
		fieldError(w, "homeToken", "No ethereum address or invalid address provided")
		return
	}
	remote, ok := parseAddress(req.RemoteToken)
	if !ok {
		fieldError(w, "remoteToken", "No ethereum address or invalid address provided")
		return
	}

	m, err := a.Registry.CreateMapping(r.Context(), c.principal, home, remote, req.RemoteChainID)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, m, http.StatusCreated)
}

func (a *API) DeactivateMapping(w http.ResponseWriter, r *http.Request) {
	c, ok := a.begin(w, r, nil)
	if !ok {
		return
	}
	home, ok := urlAddress(w, r, "token")
	if !ok {
		return
	}
	chainID, ok := urlChain(w, r, "chain")
	if !ok {
		return
	}
	if err := a.Registry.Deactivate(r.Context(), c.principal, home, chainID); err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok", Message: "deactivated"}, http.StatusOK)
}

// GetMapping returns the mapping whether active or not
func (a *API) GetMapping(w http.ResponseWriter, r *http.Request) {
	home, ok := urlAddress(w, r, "token")
	if !ok {
		return
	}
	chainID, ok := urlChain(w, r, "chain")
	if !ok {
		return
	}
	m, err := a.Ledger.GetMapping(r.Context(), home, chainID)
	if err != nil {
		responseError(w, err)
		return
	}
	if m == nil {
		responseError(w, types.Errorf(types.ErrNotFound, "mapping %s on chain %d", home.Hex(), chainID))
		return
	}
	responseJSON(w, m, http.StatusOK)
}

func (a *API) MappingHistory(w http.ResponseWriter, r *http.Request) {
	home, ok := urlAddress(w, r, "token")
	if !ok {
		return
	}
	chainID, ok := urlChain(w, r, "chain")
	if !ok {
		return
	}
	history, err := a.Registry.History(r.Context(), home, chainID)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, history, http.StatusOK)
}

func (a *API) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := a.Registry.List(r.Context())
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, mappings, http.StatusOK)
}

package handlers

import (
	"net/http"
)

func (a *API) State(w http.ResponseWriter, r *http.Request) {
	paused, err := a.Ledger.Paused(r.Context())
	if err != nil {
		responseError(w, err)
		return
	}
	routing := a.Router.Routing()
	responseJSON(w, &APIStateResponse{
		Status:         "ok",
		Paused:         paused,
		HomeChainID:    a.Registry.HomeChainID(),
		Chains:         a.Router.Chains(),
		RoutingVersion: routing.Version,
		Default:        routing.Default,
		Preferred:      routing.Preferred,
	}, http.StatusOK)
}

func (a *API) Pause(w http.ResponseWriter, r *http.Request) {
	c, ok := a.begin(w, r, nil)
	if !ok {
		return
	}
	if err := a.Ledger.Pause(r.Context(), c.principal); err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok", Message: "paused"}, http.StatusOK)
}

func (a *API) Unpause(w http.ResponseWriter, r *http.Request) {
	c, ok := a.begin(w, r, nil)
	if !ok {
		return
	}
	if err := a.Ledger.Unpause(r.Context(), c.principal); err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok", Message: "unpaused"}, http.StatusOK)
}

// Records pages through the audit log in emission order
func (a *API) Records(w http.ResponseWriter, r *http.Request) {
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		fieldError(w, "offset", "Invalid offset")
		return
	}
	limit, ok := queryInt(r, "limit", 50)
	if !ok || limit == 0 {
		fieldError(w, "limit", "Invalid limit")
		return
	}
	records, err := a.Store.Records(r.Context(), offset, limit)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, records, http.StatusOK)
}

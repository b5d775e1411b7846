package handlers

import (
	"net/http"

	"github.com/go-chi/chi"

	"gobridgeledger/acl"
	"gobridgeledger/bridgesvc"
	"gobridgeledger/router"
	"gobridgeledger/types"
)

// backend resolves {service}, removed backends included
func (a *API) backend(w http.ResponseWriter, r *http.Request) (bridgesvc.Backend, bool) {
	id := chi.URLParam(r, "service")
	b, ok := a.Router.Backend(id)
	if !ok {
		responseError(w, types.Errorf(types.ErrNotFound, "service %s", id))
	}
	return b, ok
}

func (a *API) serviceResponse(r *http.Request, cfg types.ServiceConfig) (*ServiceResponse, error) {
	res := &ServiceResponse{Status: "ok", Service: cfg}
	if b, ok := a.Router.Backend(cfg.ID); ok {
		res.Paused = b.Paused()
	}
	fees, err := a.Store.CollectedFees(r.Context(), cfg.ID)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "reading fees")
	}
	res.CollectedFees = fees.String()
	return res, nil
}

func (a *API) ListServices(w http.ResponseWriter, r *http.Request) {
	services := a.Router.Services()
	out := make([]*ServiceResponse, 0, len(services))
	for _, cfg := range services {
		res, err := a.serviceResponse(r, cfg)
		if err != nil {
			responseError(w, err)
			return
		}
		out = append(out, res)
	}
	responseJSON(w, out, http.StatusOK)
}

func (a *API) GetService(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "service")
	e, ok := a.Router.Snapshot().Entry(id)
	if !ok {
		responseError(w, types.Errorf(types.ErrNotFound, "service %s", id))
		return
	}
	res, err := a.serviceResponse(r, e.Config)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, res, http.StatusOK)
}

func (a *API) UpdateService(w http.ResponseWriter, r *http.Request) {
	var req ServiceUpdateRequest
	c, ok := a.begin(w, r, &req)
	if !ok {
		return
	}
	id := chi.URLParam(r, "service")
	err := a.Router.Update(c.principal, id, router.Update{
		Active:          req.Active,
		Priority:        req.Priority,
		SupportedChains: req.SupportedChains,
	})
	if err != nil {
		responseError(w, err)
		return
	}
	a.GetService(w, r)
}

func (a *API) RemoveService(w http.ResponseWriter, r *http.Request) {
	c, ok := a.begin(w, r, nil)
	if !ok {
		return
	}
	if err := a.Router.Remove(c.principal, chi.URLParam(r, "service")); err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok", Message: "removed"}, http.StatusOK)
}

func (a *API) PauseService(w http.ResponseWriter, r *http.Request) {
	a.setServicePaused(w, r, true)
}

func (a *API) UnpauseService(w http.ResponseWriter, r *http.Request) {
	a.setServicePaused(w, r, false)
}

// setServicePaused stops new sends through one backend, its deliveries keep landing
func (a *API) setServicePaused(w http.ResponseWriter, r *http.Request, paused bool) {
	c, ok := a.begin(w, r, nil)
	if !ok {
		return
	}
	if err := a.Roles.Require(c.principal, acl.RoleAdmin); err != nil {
		responseError(w, err)
		return
	}
	b, ok := a.backend(w, r)
	if !ok {
		return
	}
	if paused {
		b.Pause()
	} else {
		b.Unpause()
	}
	a.Log.Infow("Service pause flag changed", "service", b.ID(), "paused", paused, "by", c.principal)
	responseJSON(w, &APIResponse{Status: "ok"}, http.StatusOK)
}

func (a *API) SetDefault(w http.ResponseWriter, r *http.Request) {
	var req ServiceRequest
	c, ok := a.begin(w, r, &req)
	if !ok {
		return
	}
	if err := a.Router.SetDefault(c.principal, req.Service); err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok"}, http.StatusOK)
}

// SetPreferred pins {chain} to the body's service, an empty service clears the pin
func (a *API) SetPreferred(w http.ResponseWriter, r *http.Request) {
	var req ServiceRequest
	c, ok := a.begin(w, r, &req)
	if !ok {
		return
	}
	chainID, ok := urlChain(w, r, "chain")
	if !ok {
		return
	}
	if err := a.Router.SetPreferred(c.principal, chainID, req.Service); err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok"}, http.StatusOK)
}

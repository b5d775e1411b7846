package handlers

import (
	"net/http"
)

// HealthCheck is ok while redis answers
func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.Ping(r.Context()); err != nil {
		a.Log.Warnw("Health check failed", "error", err)
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "storage unavailable",
		}, http.StatusServiceUnavailable)
		return
	}
	responseJSON(w, &APIResponse{
		Status: "ok",
	}, http.StatusOK)
}

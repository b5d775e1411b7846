package handlers

import (
	"net/http"
)

func (a *API) GetLimits(w http.ResponseWriter, r *http.Request) {
	home, ok := urlAddress(w, r, "token")
	if !ok {
		return
	}
	limits, err := a.Ledger.GetLimits(r.Context(), home)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &LimitsResponse{
		Status:               "ok",
		Token:                home.Hex(),
		DailyLimit:           limits.DailyLimit.String(),
		SingleOperationLimit: limits.SingleOperationLimit.String(),
	}, http.StatusOK)
}

func (a *API) SetLimits(w http.ResponseWriter, r *http.Request) {
	var req LimitsRequest
	c, ok := a.begin(w, r, &req)
	if !ok {
		return
	}
	home, ok := urlAddress(w, r, "token")
	if !ok {
		return
	}
	daily, ok := parseAmount(req.DailyLimit)
	if !ok {
		fieldError(w, "dailyLimit", "Invalid amount")
		return
	}
	single, ok := parseAmount(req.SingleOperationLimit)
	if !ok {
		fieldError(w, "singleOperationLimit", "Invalid amount")
		return
	}

	if err := a.Ledger.SetLimits(r.Context(), c.principal, home, daily, single); err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &LimitsResponse{
		Status:               "ok",
		Token:                home.Hex(),
		DailyLimit:           daily.String(),
		SingleOperationLimit: single.String(),
	}, http.StatusOK)
}

// GetDailyVolume takes ?day=YYYY-MM-DD, today when absent
func (a *API) GetDailyVolume(w http.ResponseWriter, r *http.Request) {
	home, ok := urlAddress(w, r, "token")
	if !ok {
		return
	}
	day := r.URL.Query().Get("day")
	volume, err := a.Ledger.GetDailyVolume(r.Context(), home, day)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &VolumeResponse{
		Status: "ok",
		Token:  home.Hex(),
		Day:    day,
		Volume: volume.String(),
	}, http.StatusOK)
}

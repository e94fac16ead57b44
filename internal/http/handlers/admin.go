package handlers

import "net/http"

// AdminCleanup triggers a retention sweep outside the timer schedule. The
// endpoint is guarded by a static admin token, not by user auth.
func (a *App) AdminCleanup(w http.ResponseWriter, r *http.Request) {
	if a.AdminToken == "" {
		a.error(w, http.StatusForbidden, "forbidden", "admin endpoint disabled")
		return
	}
	if r.Header.Get("X-Admin-Token") != a.AdminToken {
		a.error(w, http.StatusForbidden, "forbidden", "invalid admin token")
		return
	}
	report, err := a.Sweeper.Sweep(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("manual sweep failed")
		a.error(w, http.StatusInternalServerError, "internal", "cleanup failed")
		return
	}
	a.json(w, http.StatusOK, report)
}

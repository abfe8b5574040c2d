package handler

import (
	"net/http"
	"time"

	"github.com/rle/grps/internal/infra"
)

// Live handles GET /health/live.
func Live(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyHandler handles GET /health/ready by pinging the database.
func ReadyHandler(db infra.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "disabled"})
			return
		}
		if err := infra.HealthCheck(r.Context(), db); err != nil {
			RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

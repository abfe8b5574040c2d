package handler

import (
	"net/http"

	"github.com/rle/grps/internal/service"
)

// LeaderboardHandler serves the public rankings.
type LeaderboardHandler struct {
	leaderboard *service.LeaderboardService
}

// NewLeaderboardHandler creates a new LeaderboardHandler.
func NewLeaderboardHandler(leaderboard *service.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{leaderboard: leaderboard}
}

// Top handles GET /leaderboard/top.
func (h *LeaderboardHandler) Top(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	top, err := h.leaderboard.FetchTopPlayers(r.Context(), limit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, top)
}

// Records handles GET /leaderboard/records.
func (h *LeaderboardHandler) Records(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	records, err := h.leaderboard.FetchRecordHolders(r.Context(), limit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, records)
}

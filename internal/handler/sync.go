package handler

import (
	"net/http"

	"github.com/rle/grps/internal/domain"
	"github.com/rle/grps/internal/service"
)

const activityLeaderboard = "leaderboard"

// SyncHandler triggers datastore reconciliation.
type SyncHandler struct {
	sync *service.SyncService
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(sync *service.SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

type syncRequest struct {
	Activity string  `json:"activity"`
	Limit    *int    `json:"limit"`
	Cursor   *string `json:"cursor"`
}

// Roblox handles POST /sync/roblox. The signature check runs in middleware.
func (h *SyncHandler) Roblox(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.Activity != activityLeaderboard {
		RespondError(w, domain.ErrValidation("unsupported activity"))
		return
	}

	limit := service.DefaultSyncLimit
	if req.Limit != nil {
		if *req.Limit < 1 || *req.Limit > service.MaxSyncLimit {
			RespondError(w, domain.ErrInvalidFields([]domain.FieldError{{Field: "limit", Message: "must be between 1 and 500"}}))
			return
		}
		limit = *req.Limit
	}
	var cursor string
	if req.Cursor != nil {
		cursor = *req.Cursor
	}

	result, err := h.sync.SyncLeaderboard(r.Context(), limit, cursor)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

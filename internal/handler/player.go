package handler

import (
	"net/http"
	"strconv"

	"github.com/rle/grps/internal/calculation"
	"github.com/rle/grps/internal/domain"
	"github.com/rle/grps/internal/repository"
	"github.com/rle/grps/internal/service"
)

// PlayerHandler handles player lookup endpoints.
type PlayerHandler struct {
	players   repository.PlayerRepository
	db        repository.DBTX
	calc      *calculation.Service
	ingestion *service.IngestionService
}

// NewPlayerHandler creates a new PlayerHandler.
func NewPlayerHandler(players repository.PlayerRepository, db repository.DBTX, calc *calculation.Service, ingestion *service.IngestionService) *PlayerHandler {
	return &PlayerHandler{players: players, db: db, calc: calc, ingestion: ingestion}
}

// GetPlayer handles GET /players/{userId}.
func (h *PlayerHandler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	player, err := h.players.FindByID(r.Context(), h.db, userID)
	if err != nil {
		RespondError(w, domain.ErrInternal("find player", err))
		return
	}
	if player == nil {
		RespondError(w, domain.ErrNotFound("player", strconv.FormatInt(userID, 10)))
		return
	}

	RespondJSON(w, http.StatusOK, h.calc.SerializePlayer(player))
}

// ListSnapshots handles GET /players/{userId}/snapshots, newest first.
func (h *PlayerHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	snaps, err := h.ingestion.History(r.Context(), userID, limit)
	if err != nil {
		RespondError(w, err)
		return
	}
	if snaps == nil {
		snaps = []domain.PlayerSnapshot{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

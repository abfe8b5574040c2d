package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rle/grps/internal/calculation"
	"github.com/rle/grps/internal/domain"
	"github.com/rle/grps/internal/service"
)

// Headers sent by game servers with each activity report.
const (
	HeaderExperience = "x-roblox-experience"
	HeaderActor      = "x-grps-actor"
	HeaderEvaluate   = "x-grps-evaluate"
	HeaderApply      = "x-grps-apply"
)

// RobloxHandler receives player activity from game servers.
type RobloxHandler struct {
	ingestion *service.IngestionService
	calc      *calculation.Service
	logger    *slog.Logger
}

// NewRobloxHandler creates a new RobloxHandler.
func NewRobloxHandler(ingestion *service.IngestionService, calc *calculation.Service, logger *slog.Logger) *RobloxHandler {
	return &RobloxHandler{ingestion: ingestion, calc: calc, logger: logger}
}

type ingestResponse struct {
	Player   domain.PlayerView          `json:"player"`
	Decision *domain.AutomationDecision `json:"decision"`
}

// PlayerActivity handles POST /roblox/events/player-activity. With x-grps-evaluate
// the automation rules run against the freshly stored player in the same
// transaction; x-grps-apply also carries the decision out.
func (h *RobloxHandler) PlayerActivity(w http.ResponseWriter, r *http.Request) {
	var payload domain.SnapshotPayload
	if err := DecodeJSON(r, &payload); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	snap, err := payload.Validate()
	if err != nil {
		RespondError(w, err)
		return
	}

	actor, err := optionalUserIDHeader(r, HeaderActor)
	if err != nil {
		RespondError(w, err)
		return
	}
	evaluate, err := boolHeader(r, HeaderEvaluate)
	if err != nil {
		RespondError(w, err)
		return
	}
	apply, err := boolHeader(r, HeaderApply)
	if err != nil {
		RespondError(w, err)
		return
	}

	opts := service.IngestOptions{
		ExperienceKey: strings.TrimSpace(r.Header.Get(HeaderExperience)),
		ActorUserID:   actor,
		Source:        service.SourceRoblox,
	}
	if evaluate {
		opts.Evaluate = &service.EvaluateOptions{Apply: apply, ActorUserID: actor}
	}

	res, err := h.ingestion.Ingest(r.Context(), snap, opts)
	if err != nil {
		RespondError(w, err)
		return
	}

	resp := ingestResponse{Player: h.calc.SerializePlayer(res.Player), Decision: res.Decision}
	RespondJSON(w, http.StatusOK, resp)
}

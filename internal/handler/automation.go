package handler

import (
	"net/http"

	"github.com/rle/grps/internal/auth"
	"github.com/rle/grps/internal/calculation"
	"github.com/rle/grps/internal/domain"
	"github.com/rle/grps/internal/service"
)

const defaultManualReason = "manual automation request"

// AutomationHandler exposes manual automation requests to staff tooling.
type AutomationHandler struct {
	automation *service.AutomationService
	calc       *calculation.Service
}

// NewAutomationHandler creates a new AutomationHandler.
func NewAutomationHandler(automation *service.AutomationService, calc *calculation.Service) *AutomationHandler {
	return &AutomationHandler{automation: automation, calc: calc}
}

type automationRequest struct {
	UserID      *int64  `json:"userId"`
	ActorUserID *int64  `json:"actorUserId"`
	Apply       bool    `json:"apply"`
	Reason      *string `json:"reason"`
}

type automationResponse struct {
	Decision domain.AutomationDecision `json:"decision"`
	Player   domain.PlayerView         `json:"player"`
}

// Decide handles POST /automation/decisions.
func (h *AutomationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req automationRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.UserID == nil || *req.UserID <= 0 {
		RespondError(w, domain.ErrInvalidFields([]domain.FieldError{{Field: "userId", Message: "must be a positive integer"}}))
		return
	}

	actor := req.ActorUserID
	if actor == nil {
		if id, ok := auth.ActorFromContext(r.Context()); ok {
			actor = &id
		}
	}
	reason := defaultManualReason
	if req.Reason != nil && *req.Reason != "" {
		reason = *req.Reason
	}

	result, err := h.automation.Evaluate(r.Context(), *req.UserID, service.EvaluateOptions{
		Apply:       req.Apply,
		Reason:      reason,
		ActorUserID: actor,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, automationResponse{
		Decision: result.Decision,
		Player:   h.calc.SerializePlayer(result.Player),
	})
}

package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var decisionEventTypes = map[AutomationAction]EventType{
	ActionPromote: EventPlayerPromoted,
	ActionDemote:  EventPlayerDemoted,
	ActionSuspend: EventPlayerSuspended,
	ActionBan:     EventPlayerBanned,
}

func newPlayerEvent(userID int64, evtType EventType, payload any) OutboxDraft {
	body, _ := json.Marshal(payload)
	id := strconv.FormatInt(userID, 10)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregatePlayer,
		AggregateID:   id,
		EventType:     evtType,
		PartitionKey:  id,
		Headers:       json.RawMessage(`{}`),
		Payload:       body,
		OccurredAt:    time.Now(),
	}
}

// NewPlayerCreatedEvent is emitted the first time a user id is ingested.
func NewPlayerCreatedEvent(p *Player, source string) OutboxDraft {
	return newPlayerEvent(p.UserID, EventPlayerCreated, map[string]any{
		"user_id":     p.UserID,
		"username":    p.Username,
		"rank":        p.Rank,
		"rank_points": p.RankPoints,
		"source":      source,
	})
}

// NewDecisionAppliedEvent records an applied automation decision. ok is false
// for NONE, which never produces an event.
func NewDecisionAppliedEvent(p *Player, previousRank string, d AutomationDecision, actorUserID *int64) (OutboxDraft, bool) {
	evtType, ok := decisionEventTypes[d.Action]
	if !ok {
		return OutboxDraft{}, false
	}
	payload := map[string]any{
		"user_id":       p.UserID,
		"action":        d.Action,
		"reason":        d.Reason,
		"request_id":    d.RequestID,
		"previous_rank": previousRank,
		"rank":          p.Rank,
	}
	if p.PunishmentStatus != nil {
		payload["punishment_status"] = *p.PunishmentStatus
	}
	if actorUserID != nil {
		payload["actor_user_id"] = *actorUserID
	}
	return newPlayerEvent(p.UserID, evtType, payload), true
}

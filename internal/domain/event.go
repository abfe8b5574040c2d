package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventPlayerCreated   EventType = "grps.player.created"
	EventPlayerPromoted  EventType = "grps.player.promoted"
	EventPlayerDemoted   EventType = "grps.player.demoted"
	EventPlayerSuspended EventType = "grps.player.suspended"
	EventPlayerBanned    EventType = "grps.player.banned"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregatePlayer AggregateType = "player"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// OutboxRecord is a stored outbox row awaiting publication.
type OutboxRecord struct {
	ID int64 `json:"id"`
	OutboxDraft
}
